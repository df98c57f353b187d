// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"math/rand/v2"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lossOf computes StyleContentLoss with a single style layer and a single content layer,
// using current as the activations and the given targets.
func lossOf(t *testing.T, current, styleTarget, contentTarget *tensors.Tensor, styleWeight, contentWeight float64) Loss {
	backend := graphtest.BuildTestBackend()
	outputs, err := context.ExecOnceN(backend, nil,
		func(_ *context.Context, x, styleTarget, contentTarget *Node) []*Node {
			features := Features{
				Style:   map[string]*Node{"layer": x},
				Content: map[string]*Node{"layer": x},
			}
			total, style, content := StyleContentLoss(features,
				map[string]*Node{"layer": styleTarget}, map[string]*Node{"layer": contentTarget},
				styleWeight, contentWeight)
			return []*Node{total, style, content}
		}, current, styleTarget, contentTarget)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	return Loss{
		Total:   float64(tensors.ToScalar[float32](outputs[0])),
		Style:   float64(tensors.ToScalar[float32](outputs[1])),
		Content: float64(tensors.ToScalar[float32](outputs[2])),
	}
}

func TestStyleContentLoss(t *testing.T) {
	t.Run("Zero", func(t *testing.T) {
		// A constant image of 1s: gram is all 1s and content is the image itself.
		ones := tensors.FromScalarAndDimensions(float32(1), 1, 2, 2, 3)
		gram := tensors.FromScalarAndDimensions(float32(1), 1, 3, 3)
		loss := lossOf(t, ones, gram, ones, DefaultStyleWeight, DefaultContentWeight)
		assert.InDelta(t, 0.0, loss.Total, 1e-6)
	})

	t.Run("KnownValue", func(t *testing.T) {
		// current = 1s, style target = 0s => style MSE = 1; content target = 0.5s => content MSE = 0.25.
		ones := tensors.FromScalarAndDimensions(float32(1), 1, 2, 2, 3)
		zeroGram := tensors.FromScalarAndDimensions(float32(0), 1, 3, 3)
		halves := tensors.FromScalarAndDimensions(float32(0.5), 1, 2, 2, 3)
		loss := lossOf(t, ones, zeroGram, halves, 2.0, 10.0)
		assert.InDelta(t, 2.0, loss.Style, 1e-5)
		assert.InDelta(t, 2.5, loss.Content, 1e-5)
		assert.InDelta(t, 4.5, loss.Total, 1e-5)
	})

	t.Run("NonNegative", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(1, 2))
		for range 5 {
			current := tensors.FromFlatDataAndDimensions(randomActivations(rng, 3, 2, 3), 1, 3, 2, 3)
			contentTarget := tensors.FromFlatDataAndDimensions(randomActivations(rng, 3, 2, 3), 1, 3, 2, 3)
			styleTarget := tensors.FromFlatDataAndDimensions(randomActivations(rng, 3, 1, 3), 1, 3, 3)
			loss := lossOf(t, current, styleTarget, contentTarget, DefaultStyleWeight, DefaultContentWeight)
			assert.GreaterOrEqual(t, loss.Style, 0.0)
			assert.GreaterOrEqual(t, loss.Content, 0.0)
			assert.InDelta(t, loss.Style+loss.Content, loss.Total, 1e-3*max(1, loss.Total))
		}
	})
}
