package output

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/tensor"
)

func sampleBundle() *Bundle {
	perTok := tensor.NewMatrix(2, 3)
	perTok.Set(0, 0, 1)
	perTok.Set(1, 2, 4)
	return &Bundle{
		ID:                  "P12345",
		Label:               "test",
		Representations:     map[int]*tensor.Matrix{33: perTok},
		MeanRepresentations: map[int][]float32{33: {0.5, 1.0, 1.5}},
		BosRepresentations:  map[int][]float32{33: {9, 9, 9}},
	}
}

func TestFileWriter(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("PathDerivation", func(t *testing.T) {
		w, err := NewFileWriter(t.TempDir(), "json", logger)
		if err != nil {
			t.Fatalf("NewFileWriter failed: %v", err)
		}
		if got := filepath.Base(w.Path("P12345", "test")); got != "P12345_test.json" {
			t.Errorf("path = %s, want P12345_test.json", got)
		}
		if got := filepath.Base(w.Path("P12345", "")); got != "P12345.json" {
			t.Errorf("unlabeled path = %s, want P12345.json", got)
		}
	})

	t.Run("JSONRoundTrip", func(t *testing.T) {
		dir := t.TempDir()
		w, _ := NewFileWriter(dir, "json", logger)
		if err := w.Write(ctx, sampleBundle()); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, "P12345_test.json"))
		if err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("invalid JSON artifact: %v", err)
		}
		for _, key := range []string{"id", "label", "representations", "mean_representations", "bos_representations"} {
			if _, ok := doc[key]; !ok {
				t.Errorf("artifact missing key %q", key)
			}
		}
		if _, ok := doc["contacts"]; ok {
			t.Error("contacts not requested but present in artifact")
		}
	})

	t.Run("ParquetRoundTrip", func(t *testing.T) {
		dir := t.TempDir()
		w, _ := NewFileWriter(dir, "parquet", logger)
		if err := w.Write(ctx, sampleBundle()); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		info, err := os.Stat(filepath.Join(dir, "P12345_test.parquet"))
		if err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
		if info.Size() == 0 {
			t.Error("parquet artifact is empty")
		}
	})

	t.Run("NestedIdentifier", func(t *testing.T) {
		dir := t.TempDir()
		w, _ := NewFileWriter(dir, "json", logger)
		bundle := sampleBundle()
		bundle.ID = "sp/P12345"
		bundle.Label = ""
		if err := w.Write(ctx, bundle); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "sp", "P12345.json")); err != nil {
			t.Errorf("intermediate directory not created: %v", err)
		}
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		if _, err := NewFileWriter(t.TempDir(), "csv", logger); err == nil {
			t.Error("expected error for unsupported format")
		}
	})
}
