// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots records the losses of a style transfer and plots them.
package plots

import (
	"image/color"
	"path/filepath"
	"sync"
	"time"

	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LossHistory records the losses of every step. Its OnStep method is a styletransfer.StepHook.
type LossHistory struct {
	mu                    sync.Mutex
	total, style, content plotter.XYs
}

// NewLossHistory returns an empty LossHistory.
func NewLossHistory() *LossHistory {
	return &LossHistory{}
}

// OnStep implements styletransfer.StepHook.
func (h *LossHistory) OnStep(step, _ int, loss styletransfer.Loss, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.add(step, loss.Total, loss.Style, loss.Content)
}

// add must be called with mu locked, or before the history is shared.
func (h *LossHistory) add(step int, total, style, content float64) {
	x := float64(step)
	h.total = append(h.total, plotter.XY{X: x, Y: total})
	h.style = append(h.style, plotter.XY{X: x, Y: style})
	h.content = append(h.content, plotter.XY{X: x, Y: content})
}

// Len returns the number of steps recorded.
func (h *LossHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.total)
}

// Plot returns a plot of the losses, in log scale.
func (h *LossHistory) Plot(title string) (*plot.Plot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.total) == 0 {
		return nil, errors.New("no losses recorded")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = "loss"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Legend.Top = true

	series := []struct {
		name  string
		xys   plotter.XYs
		color color.Color
	}{
		{"total", h.total, color.RGBA{R: 0x70, G: 0x50, B: 0x90, A: 0xff}},
		{"style", h.style, color.RGBA{R: 0xd0, G: 0x60, B: 0x20, A: 0xff}},
		{"content", h.content, color.RGBA{R: 0x20, G: 0x80, B: 0x60, A: 0xff}},
	}
	for _, s := range series {
		line, err := plotter.NewLine(positive(s.xys))
		if err != nil {
			return nil, errors.Wrapf(err, "plotting %s loss", s.name)
		}
		line.Color = s.color
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	return p, nil
}

// positive replaces non-positive values, which can't be shown in log scale, by the smallest positive one.
func positive(xys plotter.XYs) plotter.XYs {
	minPositive := 0.0
	for _, xy := range xys {
		if xy.Y > 0 && (minPositive == 0 || xy.Y < minPositive) {
			minPositive = xy.Y
		}
	}
	if minPositive == 0 {
		minPositive = 1e-12
	}
	result := make(plotter.XYs, len(xys))
	for ii, xy := range xys {
		result[ii] = xy
		if xy.Y <= 0 {
			result[ii].Y = minPositive
		}
	}
	return result
}

// Save the plot to path. The format is taken from the extension: ".png", ".svg", ".pdf", etc.
func (h *LossHistory) Save(path string) error {
	p, err := h.Plot("Style transfer loss")
	if err != nil {
		return err
	}
	if filepath.Ext(path) == "" {
		path += ".png"
	}
	return errors.Wrapf(p.Save(10*vg.Inch, 5*vg.Inch, path), "saving loss plot to %q", path)
}
