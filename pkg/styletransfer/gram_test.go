// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"math/rand/v2"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomActivations(rng *rand.Rand, height, width, channels int) []float32 {
	data := make([]float32, height*width*channels)
	for ii := range data {
		data[ii] = rng.Float32()*2 - 1
	}
	return data
}

func TestGramMatrix(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	rng := rand.New(rand.NewPCG(42, 0))
	const height, width, channels = 4, 5, 3
	data := randomActivations(rng, height, width, channels)
	input := tensors.FromFlatDataAndDimensions(data, 1, height, width, channels)

	gramT, err := context.ExecOnce(backend, nil, func(_ *context.Context, x *Node) *Node {
		return GramMatrix(x)
	}, input)
	require.NoError(t, err)
	require.Equal(t, []int{1, channels, channels}, gramT.Shape().Dimensions)
	got := gramT.Value().([][][]float32)[0]

	// Reference: flatten positions into rows of a [height*width, channels] matrix: A^T·A / (height*width).
	a64 := make([]float64, len(data))
	for ii, v := range data {
		a64[ii] = float64(v)
	}
	a := mat.NewDense(height*width, channels, a64)
	var want mat.Dense
	want.Mul(a.T(), a)
	want.Scale(1.0/float64(height*width), &want)

	for i := range channels {
		for j := range channels {
			assert.InDelta(t, want.At(i, j), float64(got[i][j]), 1e-4, "gram[%d][%d]", i, j)
			assert.InDelta(t, got[i][j], got[j][i], 1e-6, "gram must be symmetric")
		}
	}
}

func TestGramMatrixPositionInvariance(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	rng := rand.New(rand.NewPCG(7, 0))
	const height, width, channels = 3, 3, 4
	data := randomActivations(rng, height, width, channels)

	// Shuffle the spatial positions, keeping each position's channel vector intact.
	perm := rng.Perm(height * width)
	shuffled := make([]float32, len(data))
	for dst, src := range perm {
		copy(shuffled[dst*channels:(dst+1)*channels], data[src*channels:(src+1)*channels])
	}

	gramFn := func(_ *context.Context, x *Node) *Node { return GramMatrix(x) }
	g1, err := context.ExecOnce(backend, nil, gramFn, tensors.FromFlatDataAndDimensions(data, 1, height, width, channels))
	require.NoError(t, err)
	g2, err := context.ExecOnce(backend, nil, gramFn, tensors.FromFlatDataAndDimensions(shuffled, 1, height, width, channels))
	require.NoError(t, err)
	flat1, flat2 := tensors.CopyFlatData[float32](g1), tensors.CopyFlatData[float32](g2)
	require.Len(t, flat2, len(flat1))
	for ii := range flat1 {
		assert.InDelta(t, flat1[ii], flat2[ii], 1e-5)
	}
}
