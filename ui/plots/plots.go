// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/pkg/errors"
)

// Point is one recorded loss value. It is used to save and load loss histories.
type Point struct {
	// Loss is the name of the loss: "total", "style" or "content".
	Loss  string  `json:"loss"`
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// LossNames in the order they are recorded.
var LossNames = []string{"total", "style", "content"}

// Points returns all recorded values, ordered by step.
func (h *LossHistory) Points() []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	points := make([]Point, 0, 3*len(h.total))
	for ii := range h.total {
		step := int(h.total[ii].X)
		points = append(points,
			Point{Loss: "total", Step: step, Value: h.total[ii].Y},
			Point{Loss: "style", Step: step, Value: h.style[ii].Y},
			Point{Loss: "content", Step: step, Value: h.content[ii].Y})
	}
	return points
}

// SavePoints writes the recorded points as JSON lines.
func (h *LossHistory) SavePoints(filePath string) error {
	points := h.Points()
	return fsutil.WriteFileAtomic(filePath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, point := range points {
			if err := enc.Encode(point); err != nil {
				return errors.Wrapf(err, "failed to encode point %v", point)
			}
		}
		return nil
	})
}

// LoadPoints parses the points saved with SavePoints into a LossHistory.
func LoadPoints(filePath string) (*LossHistory, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read loss points file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	byStep := make(map[int]*[3]float64)
	var steps []int
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding loss points file %q", filePath)
		}
		values, found := byStep[point.Step]
		if !found {
			values = &[3]float64{}
			byStep[point.Step] = values
			steps = append(steps, point.Step)
		}
		switch point.Loss {
		case "total":
			values[0] = point.Value
		case "style":
			values[1] = point.Value
		case "content":
			values[2] = point.Value
		default:
			return nil, errors.Errorf("unknown loss %q in %q", point.Loss, filePath)
		}
	}

	h := NewLossHistory()
	for _, step := range steps {
		values := byStep[step]
		h.add(step, values[0], values[1], values[2])
	}
	return h, nil
}

// Table returns a table with the losses of at most maxRows steps, evenly spaced, always including the last.
func (h *LossHistory) Table(maxRows int) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	table.Headers("Step", "Total", "Style", "Content")

	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.total)
	if n == 0 || maxRows <= 0 {
		return table.String()
	}
	stride := max((n+maxRows-1)/maxRows, 1)
	for ii := (n - 1) % stride; ii < n; ii += stride {
		table.Row(
			fmt.Sprintf("%.0f", h.total[ii].X),
			fmt.Sprintf("%.4g", h.total[ii].Y),
			fmt.Sprintf("%.4g", h.style[ii].Y),
			fmt.Sprintf("%.4g", h.content[ii].Y))
	}
	return table.String()
}
