// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package terminal displays the progress of a style transfer on the terminal: a progress bar and
// a table with the latest losses.
package terminal

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn returns a name and a value to display in the statistics table.
type ExtraMetricFn func() (name, value string)

// ProgressbarStyle to use. Defaults to the ASCII version.
var ProgressbarStyle = progressbar.ThemeASCII

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the minimum time between redraws.
const maxUpdateFrequency = time.Millisecond * 200

type update struct {
	amount int
	step   int
	loss   styletransfer.Loss
}

// ProgressBar shows the optimization steps and losses. Its OnStep method is a styletransfer.StepHook.
//
// Drawing happens asynchronously, so a slow terminal doesn't slow down the optimization.
type ProgressBar struct {
	out            io.Writer
	termenv        *termenv.Output
	bar            *progressbar.ProgressBar
	statsStyle     lipgloss.Style
	statsTable     *lgtable.Table
	extraMetricFns []ExtraMetricFn
	isFirstOutput  bool
	totalSteps     int

	mu            sync.Mutex
	lastStep      int
	stepDurations []time.Duration

	updates     chan update
	drawingDone sync.WaitGroup
}

// NewProgressBar creates and starts drawing a progress bar of totalSteps steps on the standard output.
// Call Done when finished.
func NewProgressBar(totalSteps int, extraMetrics ...ExtraMetricFn) *ProgressBar {
	return NewProgressBarTo(os.Stdout, totalSteps, extraMetrics...)
}

// NewProgressBarTo is like NewProgressBar, but writes to out.
func NewProgressBarTo(out io.Writer, totalSteps int, extraMetrics ...ExtraMetricFn) *ProgressBar {
	pBar := &ProgressBar{
		out:            out,
		termenv:        termenv.NewOutput(out),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		extraMetricFns: extraMetrics,
		isFirstOutput:  true,
		totalSteps:     totalSteps,
		updates:        make(chan update, 100),
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.bar = progressbar.NewOptions(max(totalSteps, 1),
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(out),
	)
	pBar.drawingDone.Add(1)
	go pBar.draw()
	return pBar
}

// OnStep implements styletransfer.StepHook.
func (pBar *ProgressBar) OnStep(step, _ int, loss styletransfer.Loss, elapsed time.Duration) {
	pBar.mu.Lock()
	amount := step - pBar.lastStep
	pBar.lastStep = step
	pBar.stepDurations = append(pBar.stepDurations, elapsed)
	pBar.mu.Unlock()
	if amount <= 0 {
		return
	}
	pBar.updates <- update{amount: amount, step: step, loss: loss}
}

// MedianStepDuration returns the median duration of the steps so far.
func (pBar *ProgressBar) MedianStepDuration() time.Duration {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	return medianDuration(pBar.stepDurations)
}

func medianDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// Done waits for the pending updates to be drawn.
func (pBar *ProgressBar) Done() {
	close(pBar.updates)
	pBar.drawingDone.Wait()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
}

// draw loops over the updates until the channel is closed.
func (pBar *ProgressBar) draw() {
	defer pBar.drawingDone.Done()
	for u := range pBar.updates {
		// Merge the updates already in the buffer.
		amount := u.amount
	exhaust:
		for {
			select {
			case next, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += next.amount
				u = next
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		pBar.statsTable.Row("Step", fmt.Sprintf("%s of %s", humanize.Comma(int64(u.step)), humanize.Comma(int64(pBar.totalSteps))))
		pBar.statsTable.Row("Median step duration", FormatDuration(pBar.MedianStepDuration()))
		pBar.statsTable.Row("Total loss", fmt.Sprintf("%.4g", u.loss.Total))
		pBar.statsTable.Row("Style loss", fmt.Sprintf("%.4g", u.loss.Style))
		pBar.statsTable.Row("Content loss", fmt.Sprintf("%.4g", u.loss.Content))
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		// Move up over the previous table to overwrite it.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			numLinesToBackup := numStatsRows + len(pBar.extraMetricFns) + 2 + 2
			pBar.termenv.CursorPrevLine(numLinesToBackup)
		}
		pBar.isFirstOutput = false

		_, _ = fmt.Fprintln(pBar.out, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount)
		_, _ = fmt.Fprintln(pBar.out)
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// numStatsRows is the number of fixed rows in the statistics table.
const numStatsRows = 5
