// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vgg19 implements the convolutional part of the VGG19 model, with pretrained ImageNet weights,
// as a feature extractor for style transfer.
//
// Layers are named as in Keras ("block{B}_conv{C}"), and weights are the torchvision ones, read from a
// ".safetensors" file (see DownloadWeights and LoadWeights).
//
// Example:
//
//	weights, err := vgg19.LoadPretrained(ctx, vgg19.DefaultWeightsDir, true)
//	extractor, err := vgg19.NewDefaultExtractor(weights)
//	synth := styletransfer.NewSynthesizer(backend, gomlxCtx, extractor)
package vgg19

import (
	"slices"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/pkg/errors"
)

// Scope under which the weights variables are created, with one sub-scope per layer.
const Scope = "vgg19"

var (
	// DefaultStyleLayers used to describe style: the first convolution of each block.
	DefaultStyleLayers = []string{"block1_conv1", "block2_conv1", "block3_conv1", "block4_conv1", "block5_conv1"}

	// DefaultContentLayers used to describe content.
	DefaultContentLayers = []string{"block5_conv2"}
)

// Extractor implements styletransfer.FeatureExtractor with the VGG19 convolutional stack.
type Extractor struct {
	weights                    *Weights
	styleLayers, contentLayers []string

	// depth is the number of layers to build, up to the deepest requested.
	depth int
}

var _ styletransfer.FeatureExtractor = (*Extractor)(nil)

// NewExtractor returns an extractor of the given style and content layers. weights must hold all layers
// up to the deepest requested one.
func NewExtractor(weights *Weights, styleLayers, contentLayers []string) (*Extractor, error) {
	if weights == nil {
		return nil, errors.New("vgg19.NewExtractor requires weights")
	}
	if len(styleLayers)+len(contentLayers) == 0 {
		return nil, errors.New("vgg19.NewExtractor requires at least one style or content layer")
	}
	depth := 0
	for _, name := range slices.Concat(styleLayers, contentLayers) {
		idx := LayerIndex(name)
		if idx < 0 {
			return nil, errors.Errorf("unknown VGG19 layer %q", name)
		}
		depth = max(depth, idx+1)
	}
	if weights.Depth() < depth {
		return nil, errors.Errorf("weights only hold the first %d layers, but layer %q is requested",
			weights.Depth(), Layers[depth-1].Name)
	}
	return &Extractor{
		weights:       weights,
		styleLayers:   slices.Clone(styleLayers),
		contentLayers: slices.Clone(contentLayers),
		depth:         depth,
	}, nil
}

// NewDefaultExtractor returns an extractor with DefaultStyleLayers and DefaultContentLayers.
func NewDefaultExtractor(weights *Weights) (*Extractor, error) {
	return NewExtractor(weights, DefaultStyleLayers, DefaultContentLayers)
}

// StyleLayers implements styletransfer.FeatureExtractor.
func (e *Extractor) StyleLayers() []string { return e.styleLayers }

// ContentLayers implements styletransfer.FeatureExtractor.
func (e *Extractor) ContentLayers() []string { return e.contentLayers }

// Extract implements styletransfer.FeatureExtractor.
//
// image is shaped [batch, height, width, 3] with values in [0, 1]. Weights are created as non-trainable
// variables under ctx.In(Scope) on the first call, and reused afterward.
func (e *Extractor) Extract(ctx *context.Context, image *Node) styletransfer.Features {
	if image.Rank() != 4 || image.Shape().Dimensions[3] != 3 {
		Panicf("vgg19.Extractor requires images shaped [batch, height, width, 3], got %s", image.Shape())
	}
	outputs := e.ModelGraph(ctx, image)
	features := styletransfer.Features{
		Style:   make(map[string]*Node, len(e.styleLayers)),
		Content: make(map[string]*Node, len(e.contentLayers)),
	}
	for _, name := range e.styleLayers {
		features.Style[name] = outputs[name]
	}
	for _, name := range e.contentLayers {
		features.Content[name] = outputs[name]
	}
	return features
}

// ModelGraph builds the VGG19 layers up to the deepest requested by the extractor and returns the output of
// every built layer (after the ReLU), keyed by layer name.
func (e *Extractor) ModelGraph(ctx *context.Context, image *Node) map[string]*Node {
	ctx = ctx.In(Scope).Checked(false)
	x := PreprocessImage(image)
	outputs := make(map[string]*Node, e.depth)
	for _, def := range Layers[:e.depth] {
		if def.PoolBefore {
			dims := x.Shape().Dimensions
			if dims[1] < 2 || dims[2] < 2 {
				Panicf("image too small for VGG19 layer %q: input to its pooling is %dx%d, images should be "+
					"at least %dx%d pixels", def.Name, dims[1], dims[2], MinimumImageSize, MinimumImageSize)
			}
			x = MaxPool(x).Window(2).Strides(2).NoPadding().Done()
		}
		x = e.conv3x3(ctx.In(def.Name), def, x)
		outputs[def.Name] = x
	}
	return outputs
}

// MinimumImageSize for images to be processed through all VGG19 layers: 4 poolings of a factor 2.
const MinimumImageSize = 16

// conv3x3 applies a "same" padded 3x3 convolution with bias followed by a ReLU, with the pretrained weights.
func (e *Extractor) conv3x3(ctx *context.Context, def LayerDef, x *Node) *Node {
	g := x.Graph()
	lw, found := e.weights.Layer(def.Name)
	if !found {
		Panicf("missing weights for VGG19 layer %q", def.Name)
	}
	kernelVar := frozenVariable(ctx, "kernel", lw.Kernel)
	biasVar := frozenVariable(ctx, "bias", lw.Bias)

	// PyTorch kernel layout [out, in, h, w] to [h, w, in, out].
	kernel := TransposeAllAxes(kernelVar.ValueGraph(g), 2, 3, 1, 0)
	kernel = ConvertDType(kernel, x.DType())
	bias := ConvertDType(Reshape(biasVar.ValueGraph(g), 1, 1, 1, def.OutputChannels), x.DType())
	x = Convolve(x, kernel).PadSame().Done()
	x = Add(x, bias)
	return activations.Relu(x)
}

// frozenVariable returns the non-trainable variable name in the current scope, creating it with a copy
// of value if it doesn't exist yet.
func frozenVariable(ctx *context.Context, name string, value *tensors.Tensor) *context.Variable {
	if v := ctx.InspectVariableInScope(name); v != nil {
		return v
	}
	return ctx.VariableWithValue(name, value.LocalClone()).SetTrainable(false)
}
