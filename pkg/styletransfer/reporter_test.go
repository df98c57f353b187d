// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	reporter := NewSnapshotReporter(dir)
	img := imaging.New(6, 4, color.RGBA{R: 200, A: 255})
	require.NoError(t, reporter.Report(40))
	require.NoError(t, reporter.Checkpoint(img))
	require.NoError(t, reporter.Report(100))
	require.NoError(t, reporter.Checkpoint(img))
	require.NoError(t, reporter.Checkpoint(img))

	want := []string{
		filepath.Join(dir, "000_040.jpg"),
		filepath.Join(dir, "001_100.jpg"),
		filepath.Join(dir, "002_100.jpg"),
	}
	require.Equal(t, want, reporter.Paths())
	for _, path := range want {
		decoded, err := imaging.Open(path)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 6, 4), decoded.Bounds())
	}
}

func TestMultiReporter(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "result.png")
	fileReporter := NewFileReporter(output)
	failing := &recordingReporter{failReports: true, failCheckpoints: true}
	recording := &recordingReporter{}
	multi := MultiReporter{fileReporter, failing, recording}

	// Errors don't stop the forwarding, and the first one is returned.
	require.ErrorContains(t, multi.Report(30), "progress store unavailable")
	assert.Equal(t, 30, fileReporter.Progress())
	assert.Equal(t, []int{30}, recording.reports)

	img := imaging.New(3, 2, color.Black)
	require.ErrorContains(t, multi.Checkpoint(img), "disk full")
	assert.Equal(t, 1, recording.checkpoints)
	assert.Same(t, img, recording.last)
	_, err := os.Stat(output)
	require.NoError(t, err, "result should have been written")

	require.NoError(t, MultiReporter{fileReporter, recording}.Report(60))
	require.NoError(t, MultiReporter{}.Checkpoint(img))
	assert.Equal(t, 60, fileReporter.Progress())
}

func TestSynthesizerWithSnapshots(t *testing.T) {
	dir := t.TempDir()
	snapshots := NewSnapshotReporter(filepath.Join(dir, "snapshots"))
	reporter := MultiReporter{NewFileReporter(filepath.Join(dir, "result.jpg")), snapshots}
	ctx := newTestContext(1, 10)
	synth := NewSynthesizer(graphtest.BuildTestBackend(), ctx, pixelExtractor{}).WithReporter(reporter)
	require.NoError(t, synth.Initialize(gradientImage(4, 6, false), gradientImage(4, 4, true)))
	require.NoError(t, synth.Run())

	// Checkpoint at step 5, plus the final result, written before progress reaches 100.
	paths := snapshots.Paths()
	require.Len(t, paths, 2)
	assert.Equal(t, "000_050.jpg", filepath.Base(paths[0]))
	assert.Equal(t, "001_090.jpg", filepath.Base(paths[1]))
}
