// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"bytes"
	"testing"
	"time"

	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345678*time.Nanosecond))
	assert.Equal(t, "0.00s", FormatDuration(0))
	// Compound durations are printed as is.
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestMedianDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), medianDuration(nil))
	assert.Equal(t, 2*time.Second, medianDuration([]time.Duration{3 * time.Second, time.Second, 2 * time.Second}))
}

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	pBar := NewProgressBarTo(&out, 4, func() (string, string) { return "Image", "16x8" })
	var hook styletransfer.StepHook = pBar.OnStep
	for step := 1; step <= 4; step++ {
		hook(step, 4, styletransfer.Loss{Total: 3, Style: 1, Content: 2}, time.Millisecond*time.Duration(step))
	}
	pBar.Done()
	assert.Equal(t, 3*time.Millisecond, pBar.MedianStepDuration())
	assert.Contains(t, out.String(), "Content loss")
	assert.Contains(t, out.String(), "16x8")
}
