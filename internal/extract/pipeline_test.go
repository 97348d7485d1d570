package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/alphabet"
	"github.com/Phan-Trung-Thuan/esm/internal/fasta"
	"github.com/Phan-Trung-Thuan/esm/internal/model"
	"github.com/Phan-Trung-Thuan/esm/internal/output"
	"github.com/Phan-Trung-Thuan/esm/internal/tensor"
)

// fakeModel returns deterministic activations from repVal so tests can
// predict extracted values exactly. Values survive the half-precision
// reduction unchanged.
type fakeModel struct {
	numLayers  int
	embedDim   int
	dropLayers bool

	calls      int
	paddedLens []int
}

func (f *fakeModel) Name() string   { return "esm2_t6_8M_UR50D" }
func (f *fakeModel) NumLayers() int { return f.numLayers }
func (f *fakeModel) EmbedDim() int  { return f.embedDim }
func (f *fakeModel) Close() error   { return nil }

func (f *fakeModel) Infer(ctx context.Context, tokens [][]int64, layers []int, wantContacts bool) (*model.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls++
	width := len(tokens[0])
	f.paddedLens = append(f.paddedLens, width)

	out := &model.Output{Representations: make(map[int]*tensor.Dense, len(layers))}
	for _, layer := range layers {
		if f.dropLayers {
			continue
		}
		rep := tensor.NewDense(len(tokens), width, f.embedDim)
		for r := range tokens {
			for p := 0; p < width; p++ {
				for d := 0; d < f.embedDim; d++ {
					rep.Set(r, p, d, repVal(layer, r, p, d))
				}
			}
		}
		out.Representations[layer] = rep
	}
	if wantContacts {
		content := width - 2
		c := tensor.NewDense(len(tokens), content, content)
		for r := range tokens {
			for a := 0; a < content; a++ {
				for b := 0; b < content; b++ {
					c.Set(r, a, b, float32(a%8)*0.5+float32(b%8)*0.25)
				}
			}
		}
		out.Contacts = c
	}
	return out, nil
}

// memWriter records bundles instead of persisting them.
type memWriter struct {
	bundles []*output.Bundle
}

func (w *memWriter) Write(ctx context.Context, b *output.Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.bundles = append(w.bundles, b)
	return nil
}

func (w *memWriter) byID(id string) *output.Bundle {
	for _, b := range w.bundles {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// memSink records what the pipeline fans out to secondary sinks.
type memSink struct {
	modelNames []string
	ids        []string
	fail       bool
}

func (s *memSink) StoreMeans(ctx context.Context, modelName string, b *output.Bundle) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.modelNames = append(s.modelNames, modelName)
	s.ids = append(s.ids, b.ID)
	return nil
}

func testDataset(t *testing.T) *fasta.Dataset {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(">seq0 short test protein\n")
	sb.WriteString(strings.Repeat("A", 5) + "\n")
	sb.WriteString(">seq1 exactly at the window\n")
	sb.WriteString(strings.Repeat("G", 1022) + "\n")
	sb.WriteString(">seq2 longer than the window\n")
	sb.WriteString(strings.Repeat("V", 2000) + "\n")
	ds, err := fasta.Parse(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return ds
}

func TestPipelineRun(t *testing.T) {
	ds := testDataset(t)
	m := &fakeModel{numLayers: 6, embedDim: 4}
	writer := &memWriter{}

	p, err := New(m, alphabet.Protein(), writer, zap.NewNop(), Options{
		Include:             IncludeSet{Mean: true, Bos: true},
		ReprLayers:          []int{-1},
		ToksPerBatch:        2048,
		TruncationSeqLength: 1022,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := p.Layers(); len(got) != 1 || got[0] != 6 {
		t.Fatalf("resolved layers = %v, want [6]", got)
	}

	stats, err := p.Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 5+2 and 1022+2 pack together under the 2048 budget; 2000+2 does not.
	if m.calls != 2 || stats.TotalBatches != 2 || stats.ProcessedBatches != 2 {
		t.Errorf("calls = %d, stats = %+v; want 2 batches processed", m.calls, stats)
	}
	if stats.SequencesWritten != 3 || len(writer.bundles) != 3 {
		t.Fatalf("wrote %d bundles (stats %d), want 3", len(writer.bundles), stats.SequencesWritten)
	}
	// The over-length sequence is truncated to the window before padding.
	for _, w := range m.paddedLens {
		if w > 1022+2 {
			t.Errorf("padded width %d exceeds truncation window plus markers", w)
		}
	}

	b0 := writer.byID("seq0")
	if b0 == nil {
		t.Fatal("no bundle for seq0")
	}
	if b0.Label != "short test protein" {
		t.Errorf("seq0 label = %q", b0.Label)
	}
	if b0.Representations != nil || b0.AvgPerTok != nil || b0.Contacts != nil {
		t.Error("kinds not requested were populated")
	}
	mean := b0.MeanRepresentations[6]
	if len(mean) != 4 {
		t.Fatalf("mean length = %d, want 4", len(mean))
	}
	// seq0 is row 0 of its batch: positions 1..5 average to 6 + 1.5.
	for d := 0; d < 4; d++ {
		if want := float32(6) + 1.5 + float32(d)*0.25; mean[d] != want {
			t.Errorf("seq0 mean[%d] = %f, want %f", d, mean[d], want)
		}
		if want := repVal(6, 0, 0, d); b0.BosRepresentations[6][d] != want {
			t.Errorf("seq0 bos[%d] = %f, want %f", d, b0.BosRepresentations[6][d], want)
		}
	}

	b2 := writer.byID("seq2")
	if b2 == nil {
		t.Fatal("no bundle for seq2")
	}
	if len(b2.MeanRepresentations[6]) != 4 {
		t.Errorf("seq2 mean missing layer 6: %v", b2.MeanRepresentations)
	}
}

func TestPipelinePerTokLengths(t *testing.T) {
	ds := testDataset(t)
	writer := &memWriter{}

	p, err := New(&fakeModel{numLayers: 6, embedDim: 4}, alphabet.Protein(), writer, zap.NewNop(), Options{
		Include:             IncludeSet{PerTok: true, Contacts: true},
		ReprLayers:          []int{0, -1},
		ToksPerBatch:        2048,
		TruncationSeqLength: 1022,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background(), ds); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantLen := map[string]int{"seq0": 5, "seq1": 1022, "seq2": 1022}
	for id, want := range wantLen {
		b := writer.byID(id)
		if b == nil {
			t.Fatalf("no bundle for %s", id)
		}
		for _, layer := range []int{0, 6} {
			m := b.Representations[layer]
			if m == nil {
				t.Fatalf("%s missing layer %d", id, layer)
			}
			if r, _ := m.Dims(); r != want {
				t.Errorf("%s per_tok rows = %d, want %d", id, r, want)
			}
		}
		if r, c := b.Contacts.Dims(); r != want || c != want {
			t.Errorf("%s contacts = [%d, %d], want [%d, %d]", id, r, c, want, want)
		}
	}
}

func TestPipelineBatchWindow(t *testing.T) {
	ds := testDataset(t)
	writer := &memWriter{}

	// Budget 1024 splits the dataset into three single-sequence batches.
	p, err := New(&fakeModel{numLayers: 6, embedDim: 4}, alphabet.Protein(), writer, zap.NewNop(), Options{
		Include:             IncludeSet{Mean: true},
		ReprLayers:          []int{-1},
		ToksPerBatch:        1024,
		TruncationSeqLength: 1022,
		BatchStart:          0,
		BatchEnd:            1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	stats, err := p.Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.TotalBatches != 3 || stats.ProcessedBatches != 1 || stats.SkippedBatches != 2 {
		t.Errorf("stats = %+v, want 1 of 3 batches processed", stats)
	}
	if len(writer.bundles) != 1 || writer.bundles[0].ID != "seq0" {
		t.Errorf("bundles = %v, want exactly seq0 (the shortest sequence sorts first)", writer.bundles)
	}
}

func TestPipelineSinks(t *testing.T) {
	ds := testDataset(t)
	sink := &memSink{}

	p, err := New(&fakeModel{numLayers: 6, embedDim: 4}, alphabet.Protein(), &memWriter{}, zap.NewNop(), Options{
		Include:             IncludeSet{Mean: true},
		ReprLayers:          []int{-1},
		ToksPerBatch:        2048,
		TruncationSeqLength: 1022,
	}, sink)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background(), ds); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(sink.ids) != 3 {
		t.Fatalf("sink received %d bundles, want 3", len(sink.ids))
	}
	for _, name := range sink.modelNames {
		if name != "esm2_t6_8M_UR50D" {
			t.Errorf("sink model name = %q", name)
		}
	}
}

func TestPipelineSinkFailureAborts(t *testing.T) {
	ds := testDataset(t)
	p, err := New(&fakeModel{numLayers: 6, embedDim: 4}, alphabet.Protein(), &memWriter{}, zap.NewNop(), Options{
		Include:             IncludeSet{Mean: true},
		ReprLayers:          []int{-1},
		ToksPerBatch:        2048,
		TruncationSeqLength: 1022,
	}, &memSink{fail: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background(), ds); err == nil {
		t.Error("expected run to abort on sink failure")
	}
}

func TestPipelineMissingLayerFails(t *testing.T) {
	ds := testDataset(t)
	p, err := New(&fakeModel{numLayers: 6, embedDim: 4, dropLayers: true}, alphabet.Protein(), &memWriter{}, zap.NewNop(), Options{
		Include:             IncludeSet{Mean: true},
		ReprLayers:          []int{-1},
		ToksPerBatch:        2048,
		TruncationSeqLength: 1022,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(context.Background(), ds); err == nil {
		t.Error("expected run to fail when the model omits a requested layer")
	}
}

func TestPipelineContextCancellation(t *testing.T) {
	ds := testDataset(t)
	p, err := New(&fakeModel{numLayers: 6, embedDim: 4}, alphabet.Protein(), &memWriter{}, zap.NewNop(), Options{
		Include:             IncludeSet{Mean: true},
		ReprLayers:          []int{-1},
		ToksPerBatch:        2048,
		TruncationSeqLength: 1022,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, ds); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	m := &fakeModel{numLayers: 6, embedDim: 4}
	a := alphabet.Protein()
	w := &memWriter{}
	base := Options{
		Include:             IncludeSet{Mean: true},
		ReprLayers:          []int{-1},
		ToksPerBatch:        2048,
		TruncationSeqLength: 1022,
	}

	t.Run("EmptyInclude", func(t *testing.T) {
		opts := base
		opts.Include = IncludeSet{}
		if _, err := New(m, a, w, zap.NewNop(), opts); err == nil {
			t.Error("expected error for empty include set")
		}
	})

	t.Run("LayerOutOfRange", func(t *testing.T) {
		opts := base
		opts.ReprLayers = []int{7}
		if _, err := New(m, a, w, zap.NewNop(), opts); !errors.Is(err, ErrInvalidLayerIndex) {
			t.Errorf("expected ErrInvalidLayerIndex, got %v", err)
		}
	})

	t.Run("InvalidTruncation", func(t *testing.T) {
		opts := base
		opts.TruncationSeqLength = 0
		if _, err := New(m, a, w, zap.NewNop(), opts); err == nil {
			t.Error("expected error for non-positive truncation length")
		}
	})

	t.Run("InvalidWindow", func(t *testing.T) {
		opts := base
		opts.BatchStart = 3
		opts.BatchEnd = 2
		if _, err := New(m, a, w, zap.NewNop(), opts); err == nil {
			t.Error("expected error for inverted batch window")
		}
	})
}

func TestSplitHeader(t *testing.T) {
	cases := []struct {
		header, id, label string
	}{
		{"sp|P12345|TEST description here", "sp|P12345|TEST", "description here"},
		{"seq1", "seq1", ""},
		{"seq1 ", "seq1", ""},
	}
	for _, c := range cases {
		id, label := splitHeader(c.header)
		if id != c.id || label != c.label {
			t.Errorf("splitHeader(%q) = (%q, %q), want (%q, %q)", c.header, id, label, c.id, c.label)
		}
	}
}
