package extract

import (
	"fmt"

	"github.com/Phan-Trung-Thuan/esm/internal/model"
	"github.com/Phan-Trung-Thuan/esm/internal/output"
	"github.com/Phan-Trung-Thuan/esm/internal/tensor"
)

// record binds a sequence's identity, its row in the batch arrays and
// its truncation length into one value, constructed once per batch.
// Keeping the three together is what prevents row-order drift between
// activations and labels.
type record struct {
	Row      int
	ID       string
	Label    string
	TruncLen int
}

// Extractor derives the requested representation kinds for single
// sequences out of a completed batch. Every returned array is an
// independent copy; later batches cannot invalidate extracted values.
type Extractor struct {
	include IncludeSet
	layers  []int
}

// NewExtractor builds an extractor for a resolved layer set.
func NewExtractor(include IncludeSet, layers []int) *Extractor {
	return &Extractor{include: include, layers: layers}
}

// Extract builds the result bundle for one sequence. Extraction is
// confined to the truncated window: content positions [1, truncLen] of
// the activation rows, position 0 being the beginning-of-sequence
// marker, and [0, truncLen) of the content-indexed contact map.
func (e *Extractor) Extract(out *model.Output, rec record) (*output.Bundle, error) {
	bundle := &output.Bundle{ID: rec.ID, Label: rec.Label}

	var perTok map[int]*tensor.Matrix
	if e.include.NeedsPerTokSlices() {
		perTok = make(map[int]*tensor.Matrix, len(e.layers))
		for _, layer := range e.layers {
			rep := out.Representations[layer]
			if rep == nil {
				return nil, fmt.Errorf("layer %d missing from batch output", layer)
			}
			rows, positions, dim := rep.Dims()
			if rec.Row >= rows {
				return nil, fmt.Errorf("row %d out of range for %d-sequence batch", rec.Row, rows)
			}
			if rec.TruncLen+1 > positions {
				return nil, fmt.Errorf("truncation window %d exceeds %d padded positions", rec.TruncLen, positions)
			}
			m := tensor.NewMatrix(rec.TruncLen, dim)
			for p := 0; p < rec.TruncLen; p++ {
				copy(m.Row(p), rep.Inner(rec.Row, p+1))
			}
			perTok[layer] = m
		}
	}

	if e.include.PerTok {
		bundle.Representations = perTok
	}

	if e.include.AvgPerTok {
		var avg *tensor.Matrix
		for _, layer := range e.layers {
			m := perTok[layer]
			if avg == nil {
				avg = m.Clone()
				continue
			}
			for i, v := range m.Data() {
				avg.Data()[i] += v
			}
		}
		inv := 1.0 / float32(len(e.layers))
		for i := range avg.Data() {
			avg.Data()[i] *= inv
		}
		bundle.AvgPerTok = avg
	}

	if e.include.Mean {
		bundle.MeanRepresentations = make(map[int][]float32, len(e.layers))
		for _, layer := range e.layers {
			m := perTok[layer]
			rows, dim := m.Dims()
			mean := make([]float32, dim)
			for p := 0; p < rows; p++ {
				for d, v := range m.Row(p) {
					mean[d] += v
				}
			}
			if rows > 0 {
				inv := 1.0 / float32(rows)
				for d := range mean {
					mean[d] *= inv
				}
			}
			bundle.MeanRepresentations[layer] = mean
		}
	}

	if e.include.Bos {
		bundle.BosRepresentations = make(map[int][]float32, len(e.layers))
		for _, layer := range e.layers {
			rep := out.Representations[layer]
			if rep == nil {
				return nil, fmt.Errorf("layer %d missing from batch output", layer)
			}
			bos := make([]float32, len(rep.Inner(rec.Row, 0)))
			copy(bos, rep.Inner(rec.Row, 0))
			bundle.BosRepresentations[layer] = bos
		}
	}

	if e.include.Contacts {
		if out.Contacts == nil {
			return nil, fmt.Errorf("contact map missing from batch output")
		}
		_, positions, _ := out.Contacts.Dims()
		if rec.TruncLen > positions {
			return nil, fmt.Errorf("truncation window %d exceeds %d contact positions", rec.TruncLen, positions)
		}
		m := tensor.NewMatrix(rec.TruncLen, rec.TruncLen)
		for a := 0; a < rec.TruncLen; a++ {
			copy(m.Row(a), out.Contacts.Inner(rec.Row, a)[:rec.TruncLen])
		}
		bundle.Contacts = m
	}

	return bundle, nil
}
