package pipeline

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/dunamismax/kronos/internal/imageprep"
	"github.com/dunamismax/kronos/internal/minibatch"
)

const npyMagic = "\x93NUMPY"

// EncodedBatch is one minibatch serialized for storage: features as a
// little-endian float32 .npy array of shape (batch, height, width, 3) and
// labels as a JSON array in the same order.
type EncodedBatch struct {
	Seq      int
	Epoch    int
	Samples  int
	Shape    []int
	Features []byte
	Labels   []byte
}

func (b EncodedBatch) FeaturesName() string {
	return fmt.Sprintf("batch-%06d.npy", b.Seq)
}

func (b EncodedBatch) LabelsName() string {
	return fmt.Sprintf("batch-%06d.labels.json", b.Seq)
}

func (b EncodedBatch) output(featuresPath, labelsPath string) Output {
	return Output{
		Batch:        b.Seq,
		Epoch:        b.Epoch,
		Samples:      b.Samples,
		Shape:        b.Shape,
		FeaturesPath: featuresPath,
		LabelsPath:   labelsPath,
		Bytes:        len(b.Features) + len(b.Labels),
	}
}

// EncodeBatch serializes batch. Every array in the batch must share a shape.
func EncodeBatch(seq int, batch minibatch.Batch[imageprep.Array, string]) (EncodedBatch, error) {
	if batch.Len() == 0 {
		return EncodedBatch{}, errors.New("batch is empty")
	}

	sample := batch.X[0].Shape()
	for i, arr := range batch.X[1:] {
		if !slices.Equal(arr.Shape(), sample) {
			return EncodedBatch{}, fmt.Errorf("sample %d has shape %v, want %v: add a resize step", i+1, arr.Shape(), sample)
		}
	}
	shape := append([]int{batch.Len()}, sample...)

	features, err := encodeNPY(shape, batch.X)
	if err != nil {
		return EncodedBatch{}, err
	}
	labels, err := json.Marshal(batch.Y)
	if err != nil {
		return EncodedBatch{}, fmt.Errorf("marshal labels: %w", err)
	}

	return EncodedBatch{
		Seq:      seq,
		Epoch:    batch.Epoch,
		Samples:  batch.Len(),
		Shape:    shape,
		Features: features,
		Labels:   labels,
	}, nil
}

func encodeNPY(shape []int, arrays []imageprep.Array) ([]byte, error) {
	header := npyHeader(shape)

	var buf bytes.Buffer
	buf.Grow(len(header) + 4*product(shape))
	buf.WriteString(header)

	word := make([]byte, 4)
	for _, arr := range arrays {
		for _, v := range arr.Data {
			binary.LittleEndian.PutUint32(word, math.Float32bits(v))
			buf.Write(word)
		}
	}
	if want := len(header) + 4*product(shape); buf.Len() != want {
		return nil, fmt.Errorf("encode npy: wrote %d bytes, want %d", buf.Len(), want)
	}
	return buf.Bytes(), nil
}

// npyHeader builds a version 1.0 header padded so the data starts on a
// 64-byte boundary.
func npyHeader(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}

	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", tuple)
	const preamble = len(npyMagic) + 2 + 2
	pad := 64 - (preamble+len(dict)+1)%64
	if pad == 64 {
		pad = 0
	}
	dict += strings.Repeat(" ", pad) + "\n"

	var b strings.Builder
	b.WriteString(npyMagic)
	b.WriteByte(1)
	b.WriteByte(0)
	var size [2]byte
	binary.LittleEndian.PutUint16(size[:], uint16(len(dict)))
	b.Write(size[:])
	b.WriteString(dict)
	return b.String()
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
