package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/alphabet"
	"github.com/Phan-Trung-Thuan/esm/internal/tensor"
)

var (
	// ErrUnsupportedModel marks model families this pipeline cannot run,
	// in particular models requiring joint multi-sequence (MSA) input.
	ErrUnsupportedModel = errors.New("unsupported model family")
	// ErrUnknownModel marks model identifiers missing from the registry.
	ErrUnknownModel = errors.New("unknown model")
	// ErrModelNotLoaded marks inference attempts on an unready backend.
	ErrModelNotLoaded = errors.New("model not loaded")
)

// Output is the result of one model invocation on a token batch. Row i
// of every array corresponds to input sequence i of the batch.
type Output struct {
	// Logits is [sequence, position, vocab].
	Logits *tensor.Dense
	// Representations maps an absolute layer index to its activations,
	// each [sequence, position, feature].
	Representations map[int]*tensor.Dense
	// Contacts is [sequence, position, position] over content positions
	// (markers already excluded), nil unless contacts were requested.
	Contacts *tensor.Dense
}

// Model is a loaded pretrained sequence model. Inference is read-only
// with respect to model parameters.
type Model interface {
	Name() string
	NumLayers() int
	EmbedDim() int
	// Infer runs the model once on a padded token batch and returns the
	// requested layer activations, plus the contact map when asked.
	Infer(ctx context.Context, tokens [][]int64, layers []int, wantContacts bool) (*Output, error)
	Close() error
}

// Spec describes a pretrained model's architecture.
type Spec struct {
	Name      string
	NumLayers int
	EmbedDim  int
	MSAInput  bool
}

// pretrained is the registry of supported model identifiers.
var pretrained = map[string]Spec{
	"esm2_t6_8M_UR50D":         {Name: "esm2_t6_8M_UR50D", NumLayers: 6, EmbedDim: 320},
	"esm2_t12_35M_UR50D":       {Name: "esm2_t12_35M_UR50D", NumLayers: 12, EmbedDim: 480},
	"esm2_t30_150M_UR50D":      {Name: "esm2_t30_150M_UR50D", NumLayers: 30, EmbedDim: 640},
	"esm2_t33_650M_UR50D":      {Name: "esm2_t33_650M_UR50D", NumLayers: 33, EmbedDim: 1280},
	"esm2_t36_3B_UR50D":        {Name: "esm2_t36_3B_UR50D", NumLayers: 36, EmbedDim: 2560},
	"esm1b_t33_650M_UR50S":     {Name: "esm1b_t33_650M_UR50S", NumLayers: 33, EmbedDim: 1280},
	"esm_msa1_t12_100M_UR50S":  {Name: "esm_msa1_t12_100M_UR50S", NumLayers: 12, EmbedDim: 768, MSAInput: true},
	"esm_msa1b_t12_100M_UR50S": {Name: "esm_msa1b_t12_100M_UR50S", NumLayers: 12, EmbedDim: 768, MSAInput: true},
}

// Options control backend construction.
type Options struct {
	// NoGPU disables accelerator use even when one is available.
	NoGPU bool
}

// LookupSpec resolves a model location (registry name or file path
// whose base name is a registry name) to its architecture spec. MSA
// models are rejected here, before any backend or batch work starts.
func LookupSpec(location string) (Spec, error) {
	name := strings.TrimSuffix(filepath.Base(location), filepath.Ext(location))
	spec, ok := pretrained[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if spec.MSAInput {
		return Spec{}, fmt.Errorf("%w: %s requires MSA input, which this pipeline does not handle", ErrUnsupportedModel, name)
	}
	return spec, nil
}

// LoadModelAndAlphabet loads the model at location together with its
// alphabet. The concrete backend depends on build tags; the default
// build has no inference engine compiled in.
func LoadModelAndAlphabet(location string, opts Options, logger *zap.Logger) (Model, *alphabet.Alphabet, error) {
	spec, err := LookupSpec(location)
	if err != nil {
		return nil, nil, err
	}

	backend, err := newBackend(location, spec, opts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize backend for %s: %w", spec.Name, err)
	}

	return backend, alphabet.Protein(), nil
}
