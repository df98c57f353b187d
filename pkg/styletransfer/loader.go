// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/pkg/errors"

	// Extra decoders registered with image.Decode, used by imaging.Decode.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// JPEGQuality used when saving results.
const JPEGQuality = 95

// LoadImage reads the image file in path and converts it with DecodeImage.
//
// Any failure (missing file, unreadable, not an image) is returned as a *DecodeError.
func LoadImage(path string, maxDim int) (*tensors.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	t, err := DecodeImage(f, maxDim)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Path = path
			return nil, decodeErr
		}
		return nil, err
	}
	return t, nil
}

// DecodeImage decodes an image (JPEG, PNG, GIF, BMP, TIFF or WebP) and returns it as a float32 tensor
// shaped [1, height, width, 3] with values in [0, 1].
//
// The image is resized (up or down) so that its longer side is maxDim, preserving the aspect ratio.
// The alpha channel, if any, is dropped.
func DecodeImage(r io.Reader, maxDim int) (*tensors.Tensor, error) {
	if maxDim <= 0 {
		return nil, errors.Errorf("invalid maximum image dimension %d, it must be > 0", maxDim)
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &DecodeError{Err: errors.Errorf("empty image with bounds %v", bounds)}
	}
	width, height := ScaledDimensions(bounds.Dx(), bounds.Dy(), maxDim)
	resized := imaging.Resize(img, width, height, imaging.Linear)

	var t *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		t = images.ToTensor(dtypes.Float32).Batch([]image.Image{resized})
	})
	if err != nil {
		return nil, errors.WithMessage(err, "converting image to tensor")
	}
	return t, nil
}

// ScaledDimensions returns the dimensions of an image of the given width and height, scaled such that
// the longer side becomes maxDim. The shorter side is rounded down, but never less than 1.
func ScaledDimensions(width, height, maxDim int) (newWidth, newHeight int) {
	long := max(width, height)
	scale := float64(maxDim) / float64(long)
	scaleDim := func(dim int) int {
		if dim == long {
			return maxDim
		}
		return max(int(float64(dim)*scale), 1)
	}
	return scaleDim(width), scaleDim(height)
}

// ToImage converts a tensor shaped [1, height, width, 3] with values in [0, 1] to an 8-bit image.
func ToImage(t *tensors.Tensor) (img image.Image, err error) {
	if err = checkImageTensor(t); err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() {
		img = images.ToImage().MaxValue(1.0).Single(t)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "converting tensor to image")
	}
	return img, nil
}

// SaveImage writes img to path: as PNG if the path ends in ".png", otherwise as JPEG.
// The file is written atomically: readers never see a partially written image.
func SaveImage(path string, img image.Image) error {
	isPNG := strings.EqualFold(filepath.Ext(path), ".png")
	return fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		if isPNG {
			return errors.Wrap(png.Encode(w, img), "encoding PNG")
		}
		return errors.Wrap(jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality}), "encoding JPEG")
	})
}

// checkImageTensor verifies t is shaped [1, height, width, 3] with dtype float32.
func checkImageTensor(t *tensors.Tensor) error {
	if t == nil {
		return errors.New("nil image tensor")
	}
	shape := t.Shape()
	if shape.DType != dtypes.Float32 || shape.Rank() != 4 || shape.Dimensions[0] != 1 || shape.Dimensions[3] != 3 ||
		shape.Dimensions[1] <= 0 || shape.Dimensions[2] <= 0 {
		return errors.Errorf("image tensor must be float32 shaped [1, height, width, 3], got %s", shape)
	}
	return nil
}
