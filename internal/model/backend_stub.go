//go:build !onnx
// +build !onnx

package model

import (
	"fmt"

	"go.uber.org/zap"
)

// Stub used when the 'onnx' build tag is not set; keeps the default
// build free of CGO while making the missing engine an explicit error.
func newBackend(modelPath string, spec Spec, opts Options, logger *zap.Logger) (Model, error) {
	return nil, fmt.Errorf("no inference engine compiled in (rebuild with -tags onnx): %s", modelPath)
}
