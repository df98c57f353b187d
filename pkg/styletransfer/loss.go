// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"maps"
	"slices"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Loss values of one optimization step.
type Loss struct {
	Total, Style, Content float64
}

// StyleContentLoss returns the weighted style and content losses, and their sum.
//
//   - style = mean over style layers of MSE(GramMatrix(current.Style[layer]), styleTargets[layer]) * styleWeight
//   - content = mean over content layers of MSE(current.Content[layer], contentTargets[layer]) * contentWeight
//
// styleTargets hold Gram matrices, contentTargets hold raw activations. The MSE is the mean of the squared
// differences over all elements. If there are no layers of a kind, its loss is 0.
func StyleContentLoss(current Features, styleTargets, contentTargets map[string]*Node,
	styleWeight, contentWeight float64) (total, style, content *Node) {
	anyNode := firstActivation(current)
	if anyNode == nil {
		Panicf("StyleContentLoss requires at least one style or content activation")
	}
	g := anyNode.Graph()

	meanLayersLoss := func(activations, targets map[string]*Node, toStatistic func(*Node) *Node) *Node {
		if len(activations) == 0 {
			return ScalarZero(g, anyNode.DType())
		}
		// Sorted for a deterministic graph.
		names := slices.Sorted(maps.Keys(activations))
		var sum *Node
		for _, name := range names {
			target, found := targets[name]
			if !found {
				Panicf("missing target for layer %q", name)
			}
			layerLoss := MeanSquaredError(toStatistic(activations[name]), target)
			if sum == nil {
				sum = layerLoss
			} else {
				sum = Add(sum, layerLoss)
			}
		}
		return DivScalar(sum, float64(len(names)))
	}

	style = MulScalar(meanLayersLoss(current.Style, styleTargets, GramMatrix), styleWeight)
	content = MulScalar(meanLayersLoss(current.Content, contentTargets, func(x *Node) *Node { return x }), contentWeight)
	total = Add(style, content)
	return
}

// MeanSquaredError returns the mean over all elements of (x - target)^2, as a scalar.
// The shapes of x and target must match.
func MeanSquaredError(x, target *Node) *Node {
	if !x.Shape().Equal(target.Shape()) {
		Panicf("MeanSquaredError requires equal shapes, got %s and %s", x.Shape(), target.Shape())
	}
	return ReduceAllMean(Square(Sub(x, target)))
}

func firstActivation(f Features) *Node {
	for _, m := range []map[string]*Node{f.Style, f.Content} {
		for _, node := range m {
			return node
		}
	}
	return nil
}
