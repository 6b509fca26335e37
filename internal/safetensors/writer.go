package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	json "github.com/goccy/go-json"
)

// Entry is one tensor to be written.
type Entry struct {
	DType string
	Shape []int
	Data  []byte
}

// F32 builds an F32 entry from values.
func F32(shape []int, values []float32) Entry {
	raw := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return Entry{DType: "F32", Shape: shape, Data: raw}
}

// Write serializes tensors in name order with contiguous data offsets.
func Write(w io.Writer, tensors map[string]Entry, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var off int64
	for _, name := range names {
		e := tensors[name]
		n, err := numElements(e.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		if size := dtypeSize(e.DType); size == 0 || len(e.Data) != n*size {
			return fmt.Errorf("tensor %s: %d bytes do not match %s%v", name, len(e.Data), e.DType, e.Shape)
		}
		end := off + int64(len(e.Data))
		header[name] = tensorHeader{DType: e.DType, Shape: e.Shape, DataOffsets: []int64{off, end}}
		off = end
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(headerBytes); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := bw.Write(tensors[name].Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes tensors to path, replacing any existing file.
func WriteFile(path string, tensors map[string]Entry, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, tensors, metadata); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func dtypeSize(dtype string) int {
	switch dtype {
	case "F64", "I64", "U64":
		return 8
	case "F32", "I32", "U32":
		return 4
	case "F16", "BF16", "I16", "U16":
		return 2
	case "U8", "I8", "BOOL":
		return 1
	}
	return 0
}
