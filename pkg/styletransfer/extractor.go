// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Features holds the activations of the requested layers, keyed by layer name.
type Features struct {
	Style, Content map[string]*Node
}

// FeatureExtractor is a frozen, pretrained network that maps an image to the activations
// of its style and content layers.
//
// Implementations must be deterministic, and they must create their weights (if any) as non-trainable
// variables, so the optimizer only updates the synthesized image.
type FeatureExtractor interface {
	// StyleLayers returns the names of the layers used to describe style.
	StyleLayers() []string

	// ContentLayers returns the names of the layers used to describe content.
	ContentLayers() []string

	// Extract builds the graph computing the activations for image, shaped [1, height, width, 3]
	// with values in [0, 1]. It may be called more than once on the same context, in which case
	// the same weights are reused.
	//
	// Activations are shaped [batch, height, width, channels].
	Extract(ctx *context.Context, image *Node) Features
}
