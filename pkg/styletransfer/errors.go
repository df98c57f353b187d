// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import "fmt"

// DecodeError is returned when an input image is missing, unreadable or not a supported image format.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to decode image: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode image %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ComputationError is returned when building or executing the optimization step fails,
// or when the loss becomes non-finite.
type ComputationError struct {
	Step int
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("style transfer computation failed at step %d: %v", e.Step, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// CheckpointError is returned when reporting progress or writing an image checkpoint fails.
//
// Intermediate failures are only logged; a CheckpointError is returned by Synthesizer.Run only when
// the final result could not be written.
type CheckpointError struct {
	Progress int
	Err      error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint at %d%% failed: %v", e.Progress, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
