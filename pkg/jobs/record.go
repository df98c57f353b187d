// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"time"

	"github.com/google/uuid"
)

// ID of a job, a random UUID.
type ID string

// NewID returns a new random job ID.
func NewID() ID { return ID(uuid.NewString()) }

// Valid returns whether id is well-formed. Malformed IDs are never found in a Store.
func (id ID) Valid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

// Status of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Done returns whether the status is final.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the persisted state of a job. It is written only by the job's worker, and overwritten
// as a whole on every update.
type Record struct {
	ID       ID     `json:"id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`

	// Content, Style and Result are the paths of the input images and of the result image.
	Content string `json:"content"`
	Style   string `json:"style"`
	Result  string `json:"result"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
