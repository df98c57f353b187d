// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vgg19

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// LayerDef describes one 3x3 convolution of the VGG19 feature stack.
type LayerDef struct {
	// Name in Keras convention, e.g. "block3_conv2".
	Name string

	// TorchIndex is the index of the layer in the torchvision "features" sequential module.
	TorchIndex int

	InputChannels, OutputChannels int

	// PoolBefore is set for the first convolution of blocks 2 to 5, which follow a 2x2 max-pooling.
	PoolBefore bool
}

// Layers of VGG19, in order.
var Layers = []LayerDef{
	{"block1_conv1", 0, 3, 64, false},
	{"block1_conv2", 2, 64, 64, false},
	{"block2_conv1", 5, 64, 128, true},
	{"block2_conv2", 7, 128, 128, false},
	{"block3_conv1", 10, 128, 256, true},
	{"block3_conv2", 12, 256, 256, false},
	{"block3_conv3", 14, 256, 256, false},
	{"block3_conv4", 16, 256, 256, false},
	{"block4_conv1", 19, 256, 512, true},
	{"block4_conv2", 21, 512, 512, false},
	{"block4_conv3", 23, 512, 512, false},
	{"block4_conv4", 25, 512, 512, false},
	{"block5_conv1", 28, 512, 512, true},
	{"block5_conv2", 30, 512, 512, false},
	{"block5_conv3", 32, 512, 512, false},
	{"block5_conv4", 34, 512, 512, false},
}

// LayerIndex returns the position of the named layer in Layers, or -1 if there is no such layer.
func LayerIndex(name string) int {
	return slices.IndexFunc(Layers, func(l LayerDef) bool { return l.Name == name })
}

// TorchKernelName and TorchBiasName return the names of the weights of the layer in a torchvision/timm checkpoint.
func TorchKernelName(l LayerDef) string { return fmt.Sprintf("features.%d.weight", l.TorchIndex) }
func TorchBiasName(l LayerDef) string   { return fmt.Sprintf("features.%d.bias", l.TorchIndex) }

// LayerWeights of one convolution, in PyTorch layout: Kernel is shaped [out, in, 3, 3] and Bias [out].
type LayerWeights struct {
	Kernel, Bias *tensors.Tensor
}

// Weights holds the pretrained weights of (a prefix of) the VGG19 convolutional layers in host memory.
//
// Weights are immutable and can be shared by any number of extractors, each synthesis copies the
// values it needs into its own context variables.
type Weights struct {
	layers map[string]LayerWeights
}

// NewWeights validates the given layers weights. The layers present must form a prefix of Layers:
// one can't have weights for block2 without weights for block1.
func NewWeights(layers map[string]LayerWeights) (*Weights, error) {
	for name := range layers {
		if LayerIndex(name) < 0 {
			return nil, errors.Errorf("unknown VGG19 layer %q", name)
		}
	}
	for ii, def := range Layers {
		lw, found := layers[def.Name]
		if !found {
			for _, later := range Layers[ii+1:] {
				if _, found := layers[later.Name]; found {
					return nil, errors.Errorf("weights for layer %q given, but missing weights for earlier layer %q",
						later.Name, def.Name)
				}
			}
			break
		}
		if err := checkLayerWeights(def, lw); err != nil {
			return nil, err
		}
	}
	return &Weights{layers: layers}, nil
}

func checkLayerWeights(def LayerDef, lw LayerWeights) error {
	if lw.Kernel == nil || lw.Bias == nil {
		return errors.Errorf("layer %q: missing kernel or bias", def.Name)
	}
	wantKernel := []int{def.OutputChannels, def.InputChannels, 3, 3}
	if lw.Kernel.DType() != dtypes.Float32 || !slices.Equal(lw.Kernel.Shape().Dimensions, wantKernel) {
		return errors.Errorf("layer %q: kernel must be float32 shaped %v, got %s", def.Name, wantKernel, lw.Kernel.Shape())
	}
	if lw.Bias.DType() != dtypes.Float32 || !slices.Equal(lw.Bias.Shape().Dimensions, []int{def.OutputChannels}) {
		return errors.Errorf("layer %q: bias must be float32 shaped [%d], got %s", def.Name, def.OutputChannels, lw.Bias.Shape())
	}
	return nil
}

// Depth returns the number of consecutive layers (from the first) with weights.
func (w *Weights) Depth() int {
	for ii, def := range Layers {
		if _, found := w.layers[def.Name]; !found {
			return ii
		}
	}
	return len(Layers)
}

// Layer returns the weights of the named layer.
func (w *Weights) Layer(name string) (LayerWeights, bool) {
	lw, found := w.layers[name]
	return lw, found
}

// LoadWeights reads the convolutional weights of a torchvision/timm VGG19 checkpoint in ".safetensors" format.
// The classifier weights are skipped.
func LoadWeights(path string) (*Weights, error) {
	raw, err := ReadSafetensorsFile(path, func(name string) bool {
		return strings.HasPrefix(name, "features.")
	})
	if err != nil {
		return nil, err
	}
	layers := make(map[string]LayerWeights)
	for _, def := range Layers {
		kernel, hasKernel := raw[TorchKernelName(def)]
		bias, hasBias := raw[TorchBiasName(def)]
		if !hasKernel && !hasBias {
			continue
		}
		layers[def.Name] = LayerWeights{Kernel: kernel, Bias: bias}
	}
	weights, err := NewWeights(layers)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid VGG19 weights in %q", path)
	}
	if weights.Depth() == 0 {
		return nil, errors.Errorf("no VGG19 convolution weights found in %q", path)
	}
	return weights, nil
}
