package output

import (
	"context"

	"github.com/Phan-Trung-Thuan/esm/internal/tensor"
)

// Bundle is the per-sequence result entity: everything extracted for
// one input sequence. It is constructed once after a batch completes
// inference, written once, and never mutated afterward. Only the
// requested representation kinds are populated.
type Bundle struct {
	ID    string
	Label string

	// Representations holds the per-position activations per layer
	// (the per_tok kind), each [truncLen, featureDim].
	Representations map[int]*tensor.Matrix
	// AvgPerTok is the elementwise mean of Representations across the
	// requested layers, [truncLen, featureDim].
	AvgPerTok *tensor.Matrix
	// MeanRepresentations holds the position-averaged feature vector
	// per layer.
	MeanRepresentations map[int][]float32
	// BosRepresentations holds the beginning-of-sequence marker
	// activation per layer.
	BosRepresentations map[int][]float32
	// Contacts is the content-only contact submatrix, [truncLen, truncLen].
	Contacts *tensor.Matrix
}

// Writer persists one bundle per sequence at a location derived from
// its identifier and label.
type Writer interface {
	Write(ctx context.Context, bundle *Bundle) error
}
