// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// GramMatrix returns the channel-to-channel correlations of the activations, averaged over the
// spatial positions.
//
// For activations shaped [batch, height, width, channels] it returns a [batch, channels, channels]
// symmetric matrix, einsum("bijc,bijd->bcd") / (height*width). It is invariant to a permutation of the
// spatial positions, which is what makes it a description of texture rather than structure.
func GramMatrix(activations *Node) *Node {
	if activations.Rank() != 4 {
		Panicf("GramMatrix requires activations shaped [batch, height, width, channels], got %s",
			activations.Shape())
	}
	numLocations := activations.Shape().Dimensions[1] * activations.Shape().Dimensions[2]
	gram := Einsum("bijc,bijd->bcd", activations, activations)
	return DivScalar(gram, float64(numLocations))
}
