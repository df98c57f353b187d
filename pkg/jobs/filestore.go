// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/pkg/errors"
)

// FileStore keeps one JSON file per job in a directory. Files are replaced atomically on every Save.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store in dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create jobs directory %q", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id ID) string {
	return filepath.Join(s.dir, string(id)+".json")
}

// Save implements Store.
func (s *FileStore) Save(rec Record) error {
	if !rec.ID.Valid() {
		return errors.Errorf("invalid job id %q", rec.ID)
	}
	return fsutil.WriteFileAtomic(s.path(rec.ID), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrapf(enc.Encode(&rec), "encoding job %q", rec.ID)
	})
}

// Load implements Store.
func (s *FileStore) Load(id ID) (Record, error) {
	var rec Record
	if !id.Valid() {
		return rec, errors.Wrapf(ErrNotFound, "job %q", id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, errors.Wrapf(ErrNotFound, "job %q", id)
		}
		return rec, errors.Wrapf(err, "reading job %q", id)
	}
	if err = json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrapf(err, "decoding job %q", id)
	}
	return rec, nil
}

// List implements Store.
func (s *FileStore) List() ([]Record, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing jobs in %q", s.dir)
	}
	records := make([]Record, 0, len(matches))
	for _, match := range matches {
		id := ID(filepath.Base(match[:len(match)-len(".json")]))
		rec, err := s.Load(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	sortRecords(records)
	return records, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
