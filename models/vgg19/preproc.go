// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vgg19

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// ImageNet statistics, in RGB order, used to train the torchvision weights.
var (
	ImageNetMean = []float32{0.485, 0.456, 0.406}
	ImageNetStd  = []float32{0.229, 0.224, 0.225}
)

// PreprocessImage normalizes image, shaped [batch, height, width, 3] with values from 0 to 1, with the
// ImageNet per-channel mean and standard deviation.
func PreprocessImage(image *Node) *Node {
	g := image.Graph()
	mean := ConvertDType(Const(g, ImageNetMean), image.DType())
	std := ConvertDType(Const(g, ImageNetStd), image.DType())
	mean = Reshape(mean, 1, 1, 1, 3)
	std = Reshape(std, 1, 1, 1, 3)
	return Div(Sub(image, mean), std)
}
