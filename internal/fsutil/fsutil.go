// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: existence checks,
// "~" expansion and atomic writes of files that are concurrently read by other processes.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user (e.g: `~unknown/...`).
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, dir[1+len(userName):]), nil
}

// WriteFileAtomic writes the contents produced by writeFn to a temporary file in the same directory
// as filePath and then renames it over filePath.
//
// Readers of filePath either see the previous contents or the new ones, never a partially written file.
// The directory of filePath is created if missing.
func WriteFileAtomic(filePath string, writeFn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(filePath)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", filePath)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	if err = writeFn(tmp); err != nil {
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %q", tmpPath)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", tmpPath)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return errors.Wrapf(err, "failed to chmod %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", tmpPath, filePath)
	}
	return nil
}

// FileChecksum returns the SHA256 of the file in path, hex encoded.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "trying to checksum %q", path)
	}
	defer func() { _ = f.Close() }()
	hasher := sha256.New()
	if _, err = io.Copy(hasher, f); err != nil {
		return "", errors.Wrapf(err, "reading %q to checksum", path)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ValidateChecksum verifies that the SHA256 of the file in path matches checkHash (hex encoded).
func ValidateChecksum(path, checkHash string) error {
	fileHash, err := FileChecksum(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(fileHash, checkHash) {
		return errors.Errorf("file %q sha256 hash is %q, but expected %q, please remove the file and try again",
			path, fileHash, checkHash)
	}
	return nil
}
