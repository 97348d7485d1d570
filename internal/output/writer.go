package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/tensor"
)

// Kind labels used in persisted artifacts. They follow the result keys
// of the reference extraction tooling so downstream consumers can share
// loaders.
const (
	kindPerTok    = "representations"
	kindAvgPerTok = "avg_per_tok"
	kindMean      = "mean_representations"
	kindBos       = "bos_representations"
	kindContacts  = "contacts"
)

// FileWriter persists bundles as one file per sequence under a base
// directory, as Parquet or JSON.
type FileWriter struct {
	dir    string
	format string
	logger *zap.Logger
}

// NewFileWriter creates the base directory if needed and returns a
// writer for the given format ("parquet" or "json").
func NewFileWriter(dir, format string, logger *zap.Logger) (*FileWriter, error) {
	if format != "parquet" && format != "json" {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &FileWriter{dir: dir, format: format, logger: logger}, nil
}

// Path returns the artifact location for a sequence, derived
// deterministically from its identifier and label.
func (w *FileWriter) Path(id, label string) string {
	name := id
	if label != "" {
		name = id + "_" + label
	}
	return filepath.Join(w.dir, name+"."+w.format)
}

// Write persists one bundle. Any failure is returned to the caller;
// there is no continue-on-error mode.
func (w *FileWriter) Write(ctx context.Context, bundle *Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := w.Path(bundle.ID, bundle.Label)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent dir for %s: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	switch w.format {
	case "parquet":
		err = writeParquet(file, bundle)
	case "json":
		err = writeJSON(file, bundle)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	w.logger.Debug("Bundle written", zap.String("id", bundle.ID), zap.String("path", path))
	return nil
}

// reprRow is the flattened Parquet schema: one row per (kind, layer)
// array, values row-major with the original shape alongside.
type reprRow struct {
	ID     string    `parquet:"id"`
	Label  string    `parquet:"label"`
	Kind   string    `parquet:"kind"`
	Layer  int32     `parquet:"layer"`
	Rows   int32     `parquet:"rows"`
	Cols   int32     `parquet:"cols"`
	Values []float32 `parquet:"values"`
}

func writeParquet(file *os.File, bundle *Bundle) error {
	pw := parquet.NewGenericWriter[reprRow](file)
	rows := bundleRows(bundle)
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return err
		}
	}
	return pw.Close()
}

func bundleRows(bundle *Bundle) []reprRow {
	var rows []reprRow
	row := func(kind string, layer int, m *tensor.Matrix) {
		r, c := m.Dims()
		values := make([]float32, len(m.Data()))
		copy(values, m.Data())
		rows = append(rows, reprRow{
			ID: bundle.ID, Label: bundle.Label, Kind: kind,
			Layer: int32(layer), Rows: int32(r), Cols: int32(c), Values: values,
		})
	}
	vecRow := func(kind string, layer int, v []float32) {
		values := make([]float32, len(v))
		copy(values, v)
		rows = append(rows, reprRow{
			ID: bundle.ID, Label: bundle.Label, Kind: kind,
			Layer: int32(layer), Rows: 1, Cols: int32(len(v)), Values: values,
		})
	}

	for _, layer := range sortedKeys(bundle.Representations) {
		row(kindPerTok, layer, bundle.Representations[layer])
	}
	if bundle.AvgPerTok != nil {
		row(kindAvgPerTok, -1, bundle.AvgPerTok)
	}
	for _, layer := range sortedVecKeys(bundle.MeanRepresentations) {
		vecRow(kindMean, layer, bundle.MeanRepresentations[layer])
	}
	for _, layer := range sortedVecKeys(bundle.BosRepresentations) {
		vecRow(kindBos, layer, bundle.BosRepresentations[layer])
	}
	if bundle.Contacts != nil {
		row(kindContacts, -1, bundle.Contacts)
	}
	return rows
}

func writeJSON(file *os.File, bundle *Bundle) error {
	doc := map[string]interface{}{
		"id":    bundle.ID,
		"label": bundle.Label,
	}

	if len(bundle.Representations) > 0 {
		doc[kindPerTok] = matrixMapJSON(bundle.Representations)
	}
	if bundle.AvgPerTok != nil {
		doc[kindAvgPerTok] = matrixJSON(bundle.AvgPerTok)
	}
	if len(bundle.MeanRepresentations) > 0 {
		doc[kindMean] = vectorMapJSON(bundle.MeanRepresentations)
	}
	if len(bundle.BosRepresentations) > 0 {
		doc[kindBos] = vectorMapJSON(bundle.BosRepresentations)
	}
	if bundle.Contacts != nil {
		doc[kindContacts] = matrixJSON(bundle.Contacts)
	}

	return json.NewEncoder(file).Encode(doc)
}

func matrixJSON(m *tensor.Matrix) [][]float32 {
	r, _ := m.Dims()
	out := make([][]float32, r)
	for i := 0; i < r; i++ {
		row := m.Row(i)
		out[i] = make([]float32, len(row))
		copy(out[i], row)
	}
	return out
}

func matrixMapJSON(in map[int]*tensor.Matrix) map[string][][]float32 {
	out := make(map[string][][]float32, len(in))
	for layer, m := range in {
		out[fmt.Sprintf("%d", layer)] = matrixJSON(m)
	}
	return out
}

func vectorMapJSON(in map[int][]float32) map[string][]float32 {
	out := make(map[string][]float32, len(in))
	for layer, v := range in {
		vec := make([]float32, len(v))
		copy(vec, v)
		out[fmt.Sprintf("%d", layer)] = vec
	}
	return out
}

func sortedKeys(m map[int]*tensor.Matrix) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedVecKeys(m map[int][]float32) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
