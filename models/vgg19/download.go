// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vgg19

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/styletransfer/internal/downloader"
	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// WeightsURL of the ImageNet-trained VGG19 (torchvision weights, as packaged by timm).
	WeightsURL = "https://huggingface.co/timm/vgg19.tv_in1k/resolve/main/model.safetensors"

	// WeightsChecksum is the SHA256 of the weights file, hex encoded.
	//
	// If empty, the checksum of the first download that passes VerifyWeights is recorded next to the file
	// (see ChecksumSuffix), and later loads are verified against it.
	WeightsChecksum = ""

	// WeightsFileName is the name of the local file with the weights, under the weights directory.
	WeightsFileName = "vgg19_tv_in1k.safetensors"

	// ChecksumSuffix is appended to the weights file path to name the file with its recorded SHA256.
	ChecksumSuffix = ".sha256"

	// DefaultWeightsDir is where weights are cached by default.
	DefaultWeightsDir = "~/.cache/styletransfer"
)

// PathToWeights returns the path of the weights file under baseDir.
func PathToWeights(baseDir string) (string, error) {
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, WeightsFileName), nil
}

// DownloadWeights downloads the pretrained weights into baseDir, if not there yet, and returns the path to the file.
// The file is verified against WeightsChecksum, or against its recorded checksum if one exists.
//
// It is quiet if there is nothing to do, otherwise it optionally shows a progress bar.
func DownloadWeights(ctx context.Context, baseDir string, showProgressBar bool) (string, error) {
	return downloadWeightsImpl(ctx, baseDir, WeightsURL, WeightsChecksum, showProgressBar)
}

func downloadWeightsImpl(ctx context.Context, baseDir, url, checksum string, showProgressBar bool) (string, error) {
	path, err := PathToWeights(baseDir)
	if err != nil {
		return "", err
	}
	if err = downloader.DownloadIfMissing(ctx, url, path, checksum, showProgressBar); err != nil {
		return "", err
	}
	if checksum != "" {
		return path, nil
	}
	recorded, err := readRecordedChecksum(path)
	if err != nil || recorded == "" {
		return path, err
	}
	if err = fsutil.ValidateChecksum(path, recorded); err != nil {
		return "", errors.WithMessagef(err, "weights changed since they were verified (recorded in %q)",
			path+ChecksumSuffix)
	}
	return path, nil
}

// readRecordedChecksum returns the checksum recorded for path, or "" if there is none.
func readRecordedChecksum(path string) (string, error) {
	data, err := os.ReadFile(path + ChecksumSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", errors.Wrapf(err, "reading recorded checksum of %q", path)
	}
	return strings.TrimSpace(string(data)), nil
}

// VerifyWeights loads the weights in path and checks that they hold every VGG19 layer with the expected shapes.
// On success the checksum of the file is recorded, if not yet there.
func VerifyWeights(path string) (*Weights, error) {
	return verifyWeights(path, len(Layers))
}

func verifyWeights(path string, depth int) (*Weights, error) {
	weights, err := LoadWeights(path)
	if err != nil {
		return nil, err
	}
	if weights.Depth() < depth {
		return nil, errors.Errorf("weights in %q hold only %d of the %d VGG19 layers, please remove the file and try again",
			path, weights.Depth(), depth)
	}
	recorded, err := readRecordedChecksum(path)
	if err != nil {
		return nil, err
	}
	if recorded != "" {
		return weights, nil
	}
	sum, err := fsutil.FileChecksum(path)
	if err != nil {
		return nil, err
	}
	err = fsutil.WriteFileAtomic(path+ChecksumSuffix, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, sum)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "recording checksum of %q", path)
	}
	klog.V(1).Infof("recorded sha256 %s of %q", sum, path)
	return weights, nil
}

// LoadPretrained downloads (if needed), verifies and loads the pretrained weights from baseDir.
func LoadPretrained(ctx context.Context, baseDir string, showProgressBar bool) (*Weights, error) {
	path, err := DownloadWeights(ctx, baseDir, showProgressBar)
	if err != nil {
		return nil, err
	}
	return VerifyWeights(path)
}
