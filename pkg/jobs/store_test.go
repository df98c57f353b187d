// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(createdAt time.Time) Record {
	return Record{
		ID:        NewID(),
		Status:    StatusPending,
		Content:   "/data/uploads/a.jpg",
		Style:     "/data/uploads/b.png",
		Result:    "/data/results/c.jpg",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestStores(t *testing.T) {
	newStores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file":   func(t *testing.T) Store { return must.M1(NewFileStore(filepath.Join(t.TempDir(), "jobs"))) },
		"sqlite": func(t *testing.T) Store { return must.M1(NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))) },
	}
	for name, newStore := range newStores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer func() { require.NoError(t, store.Close()) }()

			_, err := store.Load(NewID())
			require.ErrorIs(t, err, ErrNotFound)
			_, err = store.Load("../../etc/passwd")
			require.ErrorIs(t, err, ErrNotFound)

			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			first, second := testRecord(base), testRecord(base.Add(time.Second))
			require.NoError(t, store.Save(second))
			require.NoError(t, store.Save(first))

			got, err := store.Load(first.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(first, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}

			// Save replaces the whole record.
			first.Status = StatusFailed
			first.Progress = 42
			first.Error = "loss is not finite"
			first.UpdatedAt = base.Add(time.Minute)
			require.NoError(t, store.Save(first))
			got, err = store.Load(first.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(first, got); diff != "" {
				t.Errorf("Load() after update mismatch (-want +got):\n%s", diff)
			}

			records, err := store.List()
			require.NoError(t, err)
			if diff := cmp.Diff([]Record{first, second}, records); diff != "" {
				t.Errorf("List() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileStoreRejectsInvalidID(t *testing.T) {
	store := must.M1(NewFileStore(t.TempDir()))
	rec := testRecord(time.Now())
	rec.ID = "../escape"
	err := store.Save(rec)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
