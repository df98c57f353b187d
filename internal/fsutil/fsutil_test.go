// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "record.json")

	require.NoError(t, WriteFileAtomic(target, func(w io.Writer) error {
		_, err := fmt.Fprint(w, `{"progress":10}`)
		return err
	}))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"progress":10}`, string(got))

	// A failing writer must leave the previous contents and no temporary files.
	err = WriteFileAtomic(target, func(w io.Writer) error {
		_, _ = fmt.Fprint(w, `{"prog`)
		return errors.New("disk full")
	})
	require.Error(t, err)
	got, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"progress":10}`, string(got))
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestValidateChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	// sha256("hello")
	require.NoError(t, ValidateChecksum(path, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"))
	require.Error(t, ValidateChecksum(path, "00"))
	sum, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
	_, err = FileChecksum(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestReplaceTildeInDir(t *testing.T) {
	got, err := ReplaceTildeInDir("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
	got, err = ReplaceTildeInDir("~/cache")
	require.NoError(t, err)
	assert.NotContains(t, got, "~")
}
