// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vgg19

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsChecksumFormat(t *testing.T) {
	if WeightsChecksum == "" {
		return
	}
	decoded, err := hex.DecodeString(WeightsChecksum)
	require.NoError(t, err)
	assert.Len(t, decoded, 32, "WeightsChecksum must be a hex encoded SHA256")
}

func TestDownloadWeights(t *testing.T) {
	data, err := os.ReadFile(writeBlock1Weights(t))
	require.NoError(t, err)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	t.Run("PinnedChecksum", func(t *testing.T) {
		baseDir := t.TempDir()
		_, err := downloadWeightsImpl(ctx, baseDir, srv.URL, strings.Repeat("0", 64), false)
		require.Error(t, err)
		_, statErr := os.Stat(filepath.Join(baseDir, WeightsFileName))
		assert.True(t, os.IsNotExist(statErr), "weights with a bad checksum should be removed")

		path, err := downloadWeightsImpl(ctx, baseDir, srv.URL, "", false)
		require.NoError(t, err)
		sum, err := fsutil.FileChecksum(path)
		require.NoError(t, err)
		got, err := downloadWeightsImpl(ctx, baseDir, srv.URL, sum, false)
		require.NoError(t, err)
		assert.Equal(t, path, got)
	})

	t.Run("RecordedChecksum", func(t *testing.T) {
		baseDir := t.TempDir()
		before := hits.Load()
		path, err := downloadWeightsImpl(ctx, baseDir, srv.URL, "", false)
		require.NoError(t, err)
		assert.Equal(t, before+1, hits.Load())

		// Only the first two layers: not accepted as the full model.
		_, err = VerifyWeights(path)
		require.ErrorContains(t, err, "only 2 of the 16")
		_, statErr := os.Stat(path + ChecksumSuffix)
		assert.True(t, os.IsNotExist(statErr), "checksum of rejected weights should not be recorded")

		weights, err := verifyWeights(path, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, weights.Depth())
		recorded, err := os.ReadFile(path + ChecksumSuffix)
		require.NoError(t, err)
		sum, err := fsutil.FileChecksum(path)
		require.NoError(t, err)
		assert.Equal(t, sum, strings.TrimSpace(string(recorded)))

		// Cached and unchanged.
		_, err = downloadWeightsImpl(ctx, baseDir, srv.URL, "", false)
		require.NoError(t, err)
		assert.Equal(t, before+1, hits.Load())

		// Corrupted after being verified.
		corrupted := append([]byte(nil), data...)
		corrupted[len(corrupted)-1] ^= 0xFF
		require.NoError(t, os.WriteFile(path, corrupted, 0o644))
		_, err = downloadWeightsImpl(ctx, baseDir, srv.URL, "", false)
		require.ErrorContains(t, err, "weights changed since they were verified")
	})
}
