package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// Dense is a dense rank-3 float32 array laid out row-major as
// [d0, d1, d2]. Batch activations use it as [sequence, position, feature]
// and contact maps as [sequence, position, position].
type Dense struct {
	d0, d1, d2 int
	data       []float32
}

// NewDense allocates a zeroed [d0, d1, d2] array.
func NewDense(d0, d1, d2 int) *Dense {
	return &Dense{d0: d0, d1: d1, d2: d2, data: make([]float32, d0*d1*d2)}
}

// DenseFromData wraps an existing flat buffer. The buffer length must
// equal d0*d1*d2.
func DenseFromData(d0, d1, d2 int, data []float32) (*Dense, error) {
	if len(data) != d0*d1*d2 {
		return nil, fmt.Errorf("tensor: data length %d does not match shape [%d, %d, %d]", len(data), d0, d1, d2)
	}
	return &Dense{d0: d0, d1: d1, d2: d2, data: data}, nil
}

// Dims returns the array shape.
func (t *Dense) Dims() (int, int, int) { return t.d0, t.d1, t.d2 }

// At returns the element at [i, j, k].
func (t *Dense) At(i, j, k int) float32 {
	return t.data[(i*t.d1+j)*t.d2+k]
}

// Set stores v at [i, j, k].
func (t *Dense) Set(i, j, k int, v float32) {
	t.data[(i*t.d1+j)*t.d2+k] = v
}

// Inner returns the innermost vector at [i, j] as a view into the
// shared buffer. Callers that hand data downstream must copy it.
func (t *Dense) Inner(i, j int) []float32 {
	off := (i*t.d1 + j) * t.d2
	return t.data[off : off+t.d2]
}

// HalfRound reduces every element to IEEE half precision in place.
// This mirrors the post-inference fp16 memory reduction: values only
// lose precision, they are never otherwise mutated.
func (t *Dense) HalfRound() {
	for i, v := range t.data {
		t.data[i] = float16.Fromfloat32(v).Float32()
	}
}

// Matrix is a dense rank-2 float32 array laid out row-major.
type Matrix struct {
	rows, cols int
	data       []float32
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// MatrixFromData wraps an existing flat buffer of length rows*cols.
func MatrixFromData(rows, cols int, data []float32) (*Matrix, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("tensor: data length %d does not match shape [%d, %d]", len(data), rows, cols)
	}
	return &Matrix{rows: rows, cols: cols, data: data}, nil
}

// Dims returns the matrix shape.
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// At returns the element at [i, j].
func (m *Matrix) At(i, j int) float32 { return m.data[i*m.cols+j] }

// Set stores v at [i, j].
func (m *Matrix) Set(i, j int, v float32) { m.data[i*m.cols+j] = v }

// Row returns row i as a view into the shared buffer.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Data returns the flat backing buffer.
func (m *Matrix) Data() []float32 { return m.data }

// Clone returns an independent copy of the matrix.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.rows, m.cols)
	copy(out.data, m.data)
	return out
}
