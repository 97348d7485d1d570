//go:build onnx
// +build onnx

package model

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/tensor"
)

// onnxBackend runs exported models through ONNX Runtime. The export is
// expected to emit "logits" [batch, pos, vocab], "hidden_states"
// [layers+1, batch, pos, dim] and, for contact-capable exports,
// "contacts" [batch, content, content].
type onnxBackend struct {
	spec        Spec
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputNames []string
	hasContacts bool
	logger      *zap.Logger
	mu          sync.Mutex
	closed      bool
}

// newBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func newBackend(modelPath string, spec Spec, opts Options, logger *zap.Logger) (Model, error) {
	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnxruntime environment init failed: %w", err)
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model IO: %w", err)
	}

	inputName := ""
	for _, ii := range inputsInfo {
		name := strings.ToLower(ii.Name)
		if name == "tokens" || name == "input_ids" || strings.Contains(name, "token") {
			inputName = ii.Name
			break
		}
	}
	if inputName == "" && len(inputsInfo) > 0 {
		inputName = inputsInfo[0].Name
	}
	if inputName == "" {
		return nil, fmt.Errorf("model declares no inputs")
	}

	var outputNames []string
	hasContacts := false
	for _, oi := range outputsInfo {
		switch strings.ToLower(oi.Name) {
		case "logits", "hidden_states":
			outputNames = append(outputNames, oi.Name)
		case "contacts":
			outputNames = append(outputNames, oi.Name)
			hasContacts = true
		}
	}
	if len(outputNames) < 2 {
		return nil, fmt.Errorf("model must expose logits and hidden_states outputs, found %d usable outputs", len(outputNames))
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	// Device transfer happens here and only here: activations come back
	// to host memory with every Run call.
	if !opts.NoGPU {
		cudaOpts, cerr := ort.NewCUDAProviderOptions()
		if cerr == nil {
			if aerr := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); aerr != nil {
				logger.Warn("CUDA execution provider unavailable, using CPU", zap.Error(aerr))
			} else {
				logger.Info("Transferred model to GPU")
			}
			cudaOpts.Destroy()
		} else {
			logger.Warn("CUDA provider options unavailable, using CPU", zap.Error(cerr))
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, outputNames, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("session creation failed: %w", err)
	}

	logger.Info("ONNX backend ready",
		zap.String("model", spec.Name),
		zap.String("input", inputName),
		zap.Strings("outputs", outputNames),
		zap.Bool("contacts", hasContacts))

	return &onnxBackend{
		spec:        spec,
		session:     session,
		inputName:   inputName,
		outputNames: outputNames,
		hasContacts: hasContacts,
		logger:      logger,
	}, nil
}

func (b *onnxBackend) Name() string   { return b.spec.Name }
func (b *onnxBackend) NumLayers() int { return b.spec.NumLayers }
func (b *onnxBackend) EmbedDim() int  { return b.spec.EmbedDim }

func (b *onnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	return nil
}

// Infer runs the exported model once for the batch.
func (b *onnxBackend) Infer(ctx context.Context, tokens [][]int64, layers []int, wantContacts bool) (*Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.session == nil {
		return nil, ErrModelNotLoaded
	}
	if wantContacts && !b.hasContacts {
		return nil, fmt.Errorf("model %s was exported without a contacts head", b.spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqs := len(tokens)
	if seqs == 0 {
		return &Output{Representations: map[int]*tensor.Dense{}}, nil
	}
	width := len(tokens[0])

	flat := make([]int64, 0, seqs*width)
	for _, row := range tokens {
		if len(row) != width {
			return nil, fmt.Errorf("ragged token batch: row width %d != %d", len(row), width)
		}
		flat = append(flat, row...)
	}

	inTensor, err := ort.NewTensor(ort.NewShape(int64(seqs), int64(width)), flat)
	if err != nil {
		return nil, fmt.Errorf("failed to create token tensor: %w", err)
	}
	defer inTensor.Destroy()

	outputs := make([]ort.Value, len(b.outputNames))
	if err := b.session.Run([]ort.Value{inTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out := &Output{Representations: make(map[int]*tensor.Dense, len(layers))}
	for i, name := range b.outputNames {
		t, ok := outputs[i].(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", name)
		}
		data := t.GetData()
		shape := t.GetShape()

		switch strings.ToLower(name) {
		case "logits":
			if len(shape) != 3 {
				return nil, fmt.Errorf("logits shape %v, want rank 3", shape)
			}
			buf := make([]float32, len(data))
			copy(buf, data)
			out.Logits, err = tensor.DenseFromData(int(shape[0]), int(shape[1]), int(shape[2]), buf)
			if err != nil {
				return nil, err
			}
		case "hidden_states":
			if len(shape) != 4 || int(shape[0]) != b.spec.NumLayers+1 {
				return nil, fmt.Errorf("hidden_states shape %v, want [%d, batch, pos, dim]", shape, b.spec.NumLayers+1)
			}
			slab := int(shape[1]) * int(shape[2]) * int(shape[3])
			for _, layer := range layers {
				if layer < 0 || layer > b.spec.NumLayers {
					return nil, fmt.Errorf("layer %d outside [0, %d]", layer, b.spec.NumLayers)
				}
				buf := make([]float32, slab)
				copy(buf, data[layer*slab:(layer+1)*slab])
				rep, derr := tensor.DenseFromData(int(shape[1]), int(shape[2]), int(shape[3]), buf)
				if derr != nil {
					return nil, derr
				}
				out.Representations[layer] = rep
			}
		case "contacts":
			if !wantContacts {
				continue
			}
			if len(shape) != 3 {
				return nil, fmt.Errorf("contacts shape %v, want rank 3", shape)
			}
			buf := make([]float32, len(data))
			copy(buf, data)
			out.Contacts, err = tensor.DenseFromData(int(shape[0]), int(shape[1]), int(shape[2]), buf)
			if err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}
