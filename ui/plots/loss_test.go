// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"
)

func TestLossHistory(t *testing.T) {
	h := NewLossHistory()
	require.Error(t, h.Save(filepath.Join(t.TempDir(), "empty.png")))

	var hook styletransfer.StepHook = h.OnStep
	for step := 1; step <= 10; step++ {
		v := 100 / float64(step)
		hook(step, 10, styletransfer.Loss{Total: 2 * v, Style: v, Content: v}, time.Millisecond)
	}
	hook(11, 11, styletransfer.Loss{}, time.Millisecond)
	assert.Equal(t, 11, h.Len())

	path := filepath.Join(t.TempDir(), "loss.png")
	require.NoError(t, h.Save(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPositive(t *testing.T) {
	got := positive(plotter.XYs{{X: 1, Y: 0}, {X: 2, Y: 0.5}, {X: 3, Y: 2}})
	assert.Equal(t, []float64{0.5, 0.5, 2}, []float64{got[0].Y, got[1].Y, got[2].Y})
}

func TestPointsRoundTrip(t *testing.T) {
	h := NewLossHistory()
	for step := 1; step <= 25; step++ {
		h.OnStep(step, 25, styletransfer.Loss{Total: float64(3 * step), Style: float64(step), Content: float64(2 * step)}, 0)
	}
	path := filepath.Join(t.TempDir(), "points.jsonl")
	require.NoError(t, h.SavePoints(path))
	loaded, err := LoadPoints(path)
	require.NoError(t, err)
	assert.Equal(t, h.Points(), loaded.Points())

	table := h.Table(5)
	assert.Contains(t, table, "Content")
	assert.Contains(t, table, "25", "last step is always in the table")
	assert.Equal(t, 5+4, strings.Count(table, "\n")+1, "5 rows, a header and 3 border lines")
}
