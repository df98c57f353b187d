// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vgg19

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"io"
	"iter"
	"os"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// NamedTensor is a tensor and its name in a ".safetensors" file.
type NamedTensor struct {
	Name   string
	Tensor *tensors.Tensor
}

const safetensorsMetadataKey = "__metadata__"

// maxSafetensorsHeader protects against corrupt files asking for huge allocations.
const maxSafetensorsHeader = 100 << 20

type tensorMetadata struct {
	// Format is only present for the safetensorsMetadataKey ("__metadata__").
	Format string `json:"format,omitempty"`

	DTypeName  string   `json:"dtype"`
	Dimensions []int    `json:"shape"`
	Offsets    []uint64 `json:"data_offsets"`

	// Name is filled later, with the key to the tensor.
	Name string `json:"-"`
}

// safetensorsDTypes maps the dtype names used in .safetensors headers.
var safetensorsDTypes = map[string]dtypes.DType{
	"F64":  dtypes.Float64,
	"F32":  dtypes.Float32,
	"F16":  dtypes.Float16,
	"BF16": dtypes.BFloat16,
	"I64":  dtypes.Int64,
	"I32":  dtypes.Int32,
	"I16":  dtypes.Int16,
	"I8":   dtypes.Int8,
	"U8":   dtypes.Uint8,
	"BOOL": dtypes.Bool,
}

func (t *tensorMetadata) DType() dtypes.DType {
	dtype, found := safetensorsDTypes[t.DTypeName]
	if !found {
		return dtypes.InvalidDType
	}
	return dtype
}

func (t *tensorMetadata) Shape() shapes.Shape {
	return shapes.Make(t.DType(), t.Dimensions...)
}

// readSafetensorsHeader reads the header of a .safetensors file, and returns the tensors metadata sorted
// by their offset.
//
// If fileSize >= 0, the sizes declared in the header must fit in it, so a corrupt header can't trigger
// allocations larger than the file.
func readSafetensorsHeader(r io.Reader, fileSize int64) ([]*tensorMetadata, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, errors.Wrap(err, "failed to read .safetensors header length")
	}
	if headerLen == 0 || headerLen > maxSafetensorsHeader {
		return nil, errors.Errorf("invalid .safetensors header length %d", headerLen)
	}
	if fileSize >= 0 && 8+headerLen > uint64(fileSize) {
		return nil, errors.Errorf(".safetensors header length %d exceeds the file size %d", headerLen, fileSize)
	}
	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, errors.Wrap(err, "failed to read .safetensors header")
	}
	var metadata map[string]*tensorMetadata
	if err := json.Unmarshal(headerBuf, &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to parse .safetensors header json")
	}
	if global, found := metadata[safetensorsMetadataKey]; found && global != nil &&
		global.Format != "" && global.Format != "pt" {
		return nil, errors.Errorf("unsupported tensor format %q set in %q, only \"pt\" (PyTorch) is supported",
			global.Format, safetensorsMetadataKey)
	}

	sorted := make([]*tensorMetadata, 0, len(metadata))
	for name, tData := range metadata {
		if name == safetensorsMetadataKey {
			continue
		}
		tData.Name = name
		if len(tData.Offsets) != 2 || tData.Offsets[1] < tData.Offsets[0] {
			return nil, errors.Errorf("tensor %q has invalid data_offsets %v, expected [start, end]",
				name, tData.Offsets)
		}
		if tData.DType() == dtypes.InvalidDType {
			return nil, errors.Errorf("tensor %q has unsupported dtype %q", name, tData.DTypeName)
		}
		if slices.ContainsFunc(tData.Dimensions, func(dim int) bool { return dim < 0 }) {
			return nil, errors.Errorf("tensor %q has invalid shape %v", name, tData.Dimensions)
		}
		size := uintptr(tData.Offsets[1] - tData.Offsets[0])
		if size != tData.Shape().Memory() {
			return nil, errors.Errorf("tensor %q with shape %s requires %d bytes, but data_offsets reserve %d bytes",
				name, tData.Shape(), tData.Shape().Memory(), size)
		}
		sorted = append(sorted, tData)
	}
	if len(sorted) == 0 {
		return nil, errors.New(".safetensors file holds no tensors")
	}
	slices.SortFunc(sorted, func(a, b *tensorMetadata) int {
		return cmp.Compare(a.Offsets[0], b.Offsets[0])
	})

	// Data must be contiguous.
	var lastOffset uint64
	for _, tData := range sorted {
		if tData.Offsets[0] != lastOffset {
			return nil, errors.Errorf("tensor %q data_offsets not contiguous: expected start %d, got %d",
				tData.Name, lastOffset, tData.Offsets[0])
		}
		lastOffset = tData.Offsets[1]
	}
	if fileSize >= 0 && lastOffset > uint64(fileSize)-8-headerLen {
		return nil, errors.Errorf(".safetensors header declares %d bytes of tensor data, but the file only has %d bytes after the header",
			lastOffset, uint64(fileSize)-8-headerLen)
	}
	return sorted, nil
}

// ScanSafetensors reads the tensors of a ".safetensors" stream, in the order they are stored.
//
// Tensors not accepted by filter (if not nil) are skipped without being allocated.
// The iteration stops at the first error.
//
// The stream length is unknown, so tensors are allocated as declared by the header. Use ReadSafetensorsFile
// for files from untrusted sources.
func ScanSafetensors(r io.Reader, filter func(name string) bool) iter.Seq2[*NamedTensor, error] {
	return scanSafetensors(r, -1, filter)
}

func scanSafetensors(r io.Reader, size int64, filter func(name string) bool) iter.Seq2[*NamedTensor, error] {
	return func(yield func(*NamedTensor, error) bool) {
		sorted, err := readSafetensorsHeader(r, size)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, tData := range sorted {
			size := int64(tData.Offsets[1] - tData.Offsets[0])
			if filter != nil && !filter(tData.Name) {
				if _, err := io.CopyN(io.Discard, r, size); err != nil {
					yield(nil, errors.Wrapf(err, "tensor %q: failed to skip %d bytes", tData.Name, size))
					return
				}
				continue
			}
			t := tensors.FromShape(tData.Shape())
			var readErr error
			err := t.MutableBytes(func(data []byte) {
				_, readErr = io.ReadFull(r, data)
			})
			if err == nil {
				err = readErr
			}
			if err != nil {
				yield(nil, errors.Wrapf(err, "tensor %q: failed to read %d bytes", tData.Name, size))
				return
			}
			if !yield(&NamedTensor{Name: tData.Name, Tensor: t}, nil) {
				return
			}
		}
	}
}

// ReadSafetensorsFile reads the tensors accepted by filter (all if nil) from the ".safetensors" file in path.
//
// It fails before allocating any tensor if the header declares more data than the file holds.
func ReadSafetensorsFile(path string, filter func(name string) bool) (map[string]*tensors.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open weights file %q", path)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat weights file %q", path)
	}
	results := make(map[string]*tensors.Tensor)
	for nt, err := range scanSafetensors(bufio.NewReaderSize(f, 1<<20), info.Size(), filter) {
		if err != nil {
			return nil, errors.WithMessagef(err, "reading %q", path)
		}
		results[nt.Name] = nt.Tensor
	}
	return results, nil
}

// WriteSafetensors writes the named tensors in the ".safetensors" format, in the given order.
// Used to create small weight files, e.g. in tests.
func WriteSafetensors(w io.Writer, namedTensors []*NamedTensor) error {
	header := map[string]any{safetensorsMetadataKey: map[string]string{"format": "pt"}}
	var offset uint64
	dtypeNames := make(map[dtypes.DType]string, len(safetensorsDTypes))
	for name, dtype := range safetensorsDTypes {
		dtypeNames[dtype] = name
	}
	for _, nt := range namedTensors {
		shape := nt.Tensor.Shape()
		dtypeName, found := dtypeNames[shape.DType]
		if !found {
			return errors.Errorf("tensor %q: dtype %s not supported by .safetensors", nt.Name, shape.DType)
		}
		size := uint64(shape.Memory())
		header[nt.Name] = &tensorMetadata{
			DTypeName:  dtypeName,
			Dimensions: slices.Clone(shape.Dimensions),
			Offsets:    []uint64{offset, offset + size},
		}
		offset += size
	}
	headerBuf, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encoding .safetensors header")
	}
	if err = binary.Write(w, binary.LittleEndian, uint64(len(headerBuf))); err != nil {
		return errors.Wrap(err, "writing .safetensors header length")
	}
	if _, err = w.Write(headerBuf); err != nil {
		return errors.Wrap(err, "writing .safetensors header")
	}
	for _, nt := range namedTensors {
		var writeErr error
		err = nt.Tensor.ConstBytes(func(data []byte) {
			_, writeErr = w.Write(data)
		})
		if err == nil {
			err = writeErr
		}
		if err != nil {
			return errors.Wrapf(err, "writing tensor %q", nt.Name)
		}
	}
	return nil
}
