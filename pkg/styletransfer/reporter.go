// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"
)

// Reporter receives the progress of a synthesis and snapshots of the image being synthesized.
//
// From the optimization loop point of view, reporting is fire-and-forget: errors are logged,
// except when writing the final result.
type Reporter interface {
	// Report the progress, an integer percentage from 0 to 100. Values are non-decreasing.
	Report(progress int) error

	// Checkpoint receives the current synthesized image. The last call holds the final result.
	Checkpoint(img image.Image) error
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Report(int) error { return nil }

func (NopReporter) Checkpoint(image.Image) error { return nil }

// FileReporter saves every checkpoint to the same file, see SaveImage, and keeps the last reported progress
// in memory.
type FileReporter struct {
	Path string

	mu       sync.Mutex
	progress int
}

// NewFileReporter returns a Reporter that writes checkpoints to path.
func NewFileReporter(path string) *FileReporter {
	return &FileReporter{Path: path}
}

// Report implements Reporter.
func (r *FileReporter) Report(progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = progress
	return nil
}

// Progress returns the last reported progress. It is safe to call concurrently with the synthesis.
func (r *FileReporter) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Checkpoint implements Reporter.
func (r *FileReporter) Checkpoint(img image.Image) error {
	return SaveImage(r.Path, img)
}

// SnapshotReporter saves every checkpoint to a new file in Dir, named after the checkpoint number and the
// progress at the time, e.g. "003_060.jpg".
type SnapshotReporter struct {
	Dir string

	mu             sync.Mutex
	progress, next int
	paths          []string
}

// NewSnapshotReporter returns a Reporter that keeps every checkpoint in dir.
func NewSnapshotReporter(dir string) *SnapshotReporter {
	return &SnapshotReporter{Dir: dir}
}

// Report implements Reporter.
func (r *SnapshotReporter) Report(progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = progress
	return nil
}

// Checkpoint implements Reporter.
func (r *SnapshotReporter) Checkpoint(img image.Image) error {
	r.mu.Lock()
	path := filepath.Join(r.Dir, fmt.Sprintf("%03d_%03d.jpg", r.next, r.progress))
	r.next++
	r.mu.Unlock()
	if err := SaveImage(path, img); err != nil {
		return err
	}
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	return nil
}

// Paths returns the files written so far, in order.
func (r *SnapshotReporter) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// MultiReporter forwards to all reporters, returning the first error.
type MultiReporter []Reporter

// Report implements Reporter.
func (m MultiReporter) Report(progress int) error {
	var firstErr error
	for _, r := range m {
		if err := r.Report(progress); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Checkpoint implements Reporter.
func (m MultiReporter) Checkpoint(img image.Image) error {
	var firstErr error
	for _, r := range m {
		if err := r.Checkpoint(img); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
