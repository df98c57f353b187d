// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileServer(t *testing.T, body string, hits *int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/weights" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadIfMissing(t *testing.T) {
	var hits int32
	srv := newFileServer(t, "hello", &hits)
	target := filepath.Join(t.TempDir(), "cache", "weights.bin")
	const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	require.NoError(t, DownloadIfMissing(context.Background(), srv.URL+"/weights", target, helloSHA256, false))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	// Second call finds the file in cache.
	require.NoError(t, DownloadIfMissing(context.Background(), srv.URL+"/weights", target, helloSHA256, false))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDownloadErrors(t *testing.T) {
	var hits int32
	srv := newFileServer(t, "hello", &hits)
	dir := t.TempDir()

	_, err := Download(context.Background(), srv.URL+"/missing", filepath.Join(dir, "a"), "", false)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "a"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = Download(context.Background(), srv.URL+"/weights", filepath.Join(dir, "b"), "0000", false)
	require.Error(t, err)
	_, statErr = os.Stat(filepath.Join(dir, "b"))
	assert.True(t, os.IsNotExist(statErr), "file with bad checksum should be removed")
}
