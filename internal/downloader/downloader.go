// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader fetches remote files (pretrained weights) into a local cache,
// optionally displaying a progress bar and verifying a SHA256 checksum.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// copyBytesBar copies bytes to an io.Writer while displaying a progressbar.
type copyBytesBar struct {
	w                             io.Writer
	bar                           *progressbar.ProgressBar
	amountWritten                 int64
	barUnit, numUnits, addedUnits int64
}

func newCopyBytesBar(w io.Writer, contentLength int64) *copyBytesBar {
	bar := &copyBytesBar{w: w}
	if contentLength <= 0 {
		// Unknown size: a spinner counting bytes.
		bar.barUnit = 1
		bar.numUnits = -1
		bar.bar = progressbar.DefaultBytes(-1, "downloading")
		return bar
	}
	bar.barUnit = 1
	for contentLength > bar.barUnit*1024*1024 {
		bar.barUnit *= 1024
	}
	bar.numUnits = (contentLength + bar.barUnit - 1) / bar.barUnit
	bar.bar = progressbar.NewOptions64(bar.numUnits,
		progressbar.OptionSetDescription(humanize.IBytes(uint64(contentLength))),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	return bar
}

// Write implements io.Writer, while updating the progress bar.
func (bar *copyBytesBar) Write(p []byte) (n int, err error) {
	n, err = bar.w.Write(p)
	bar.amountWritten += int64(n)
	toUnits := bar.amountWritten / bar.barUnit
	if toUnits > bar.addedUnits {
		_ = bar.bar.Add64(toUnits - bar.addedUnits)
		bar.addedUnits = toUnits
	}
	return
}

func (bar *copyBytesBar) finish() {
	if bar.numUnits > 0 && bar.addedUnits < bar.numUnits {
		_ = bar.bar.Add64(bar.numUnits - bar.addedUnits)
	}
	_ = bar.bar.Close()
	fmt.Println()
}

// Download fetches url and saves it at filePath.
//
// The contents are first written to a temporary file in the same directory and only renamed
// to filePath once complete, so an interrupted download never leaves a truncated file behind.
// If checksum is not empty, the SHA256 of the downloaded file must match it.
func Download(ctx context.Context, url, filePath, checksum string, showProgressBar bool) (size int64, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating request for %q", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: status %s", url, resp.Status)
	}

	err = fsutil.WriteFileAtomic(filePath, func(w io.Writer) error {
		var copyErr error
		if showProgressBar {
			bar := newCopyBytesBar(w, resp.ContentLength)
			size, copyErr = io.Copy(bar, resp.Body)
			bar.finish()
		} else {
			size, copyErr = io.Copy(w, resp.Body)
		}
		if copyErr != nil {
			return errors.Wrapf(copyErr, "downloading %q", url)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if checksum != "" {
		if err = fsutil.ValidateChecksum(filePath, checksum); err != nil {
			_ = os.Remove(filePath)
			return 0, err
		}
	}
	klog.V(1).Infof("downloaded %q to %q (%s)", url, filePath, humanize.IBytes(uint64(size)))
	return size, nil
}

// DownloadIfMissing downloads url into filePath only if filePath doesn't exist yet.
// If checksum is given, it is verified also for a previously downloaded file.
func DownloadIfMissing(ctx context.Context, url, filePath, checksum string, showProgressBar bool) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return err
	}
	if exists {
		if checksum != "" {
			return fsutil.ValidateChecksum(filePath, checksum)
		}
		return nil
	}
	if showProgressBar {
		fmt.Printf("Downloading %s ...\n", url)
	}
	_, err = Download(ctx, url, filePath, checksum, showProgressBar)
	return err
}
