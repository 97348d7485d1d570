package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/model"
)

// Inferencer runs one model invocation per batch and normalizes the
// raw output for extraction. Activations are reduced to half precision
// right here, immediately after inference, to bound the memory held
// while a batch is being fanned out.
type Inferencer struct {
	model  model.Model
	logger *zap.Logger
}

// NewInferencer wraps a loaded model.
func NewInferencer(m model.Model, logger *zap.Logger) *Inferencer {
	return &Inferencer{model: m, logger: logger}
}

// Run invokes the model once on the padded token batch and validates
// the returned shapes against the request before anything downstream
// consumes them.
func (inf *Inferencer) Run(ctx context.Context, tokens [][]int64, layers []int, wantContacts bool) (*model.Output, error) {
	out, err := inf.model.Infer(ctx, tokens, layers, wantContacts)
	if err != nil {
		return nil, fmt.Errorf("batch inference failed: %w", err)
	}

	for _, layer := range layers {
		rep, ok := out.Representations[layer]
		if !ok || rep == nil {
			return nil, fmt.Errorf("model output missing layer %d", layer)
		}
		rows, _, _ := rep.Dims()
		if rows != len(tokens) {
			return nil, fmt.Errorf("layer %d has %d rows for a %d-sequence batch", layer, rows, len(tokens))
		}
		rep.HalfRound()
	}

	if wantContacts {
		if out.Contacts == nil {
			return nil, fmt.Errorf("contacts requested but not returned by the model")
		}
		rows, _, _ := out.Contacts.Dims()
		if rows != len(tokens) {
			return nil, fmt.Errorf("contact map has %d rows for a %d-sequence batch", rows, len(tokens))
		}
	}

	return out, nil
}
