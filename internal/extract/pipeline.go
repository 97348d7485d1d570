package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Phan-Trung-Thuan/esm/internal/alphabet"
	"github.com/Phan-Trung-Thuan/esm/internal/fasta"
	"github.com/Phan-Trung-Thuan/esm/internal/model"
	"github.com/Phan-Trung-Thuan/esm/internal/output"
)

// Sink receives finished bundles in addition to the primary writer,
// e.g. a database or cache of mean representations. Sink errors abort
// the run; sinks that want best-effort semantics downgrade internally.
type Sink interface {
	StoreMeans(ctx context.Context, modelName string, bundle *output.Bundle) error
}

// Options configure one extraction run.
type Options struct {
	Include             IncludeSet
	ReprLayers          []int // may be negative, counting from the end
	ToksPerBatch        int
	TruncationSeqLength int
	// BatchStart/BatchEnd restrict the run to batch ordinals in
	// [BatchStart, BatchEnd), for resuming or sharding long runs.
	// BatchEnd == 0 means unbounded.
	BatchStart int
	BatchEnd   int
}

// Stats is a snapshot of run progress, safe to expose while running.
type Stats struct {
	TotalBatches     int       `json:"total_batches"`
	ProcessedBatches int       `json:"processed_batches"`
	SkippedBatches   int       `json:"skipped_batches"`
	SequencesWritten int       `json:"sequences_written"`
	StartTime        time.Time `json:"start_time"`
}

// Pipeline drives the batched extraction run: batch conversion, one
// inference per batch, per-sequence fan-out, durable writes. Batches
// are processed strictly sequentially; each batch's activations are
// fully consumed before the next batch begins.
type Pipeline struct {
	model      model.Model
	alphabet   *alphabet.Alphabet
	converter  *alphabet.BatchConverter
	inferencer *Inferencer
	extractor  *Extractor
	writer     output.Writer
	sinks      []Sink
	logger     *zap.Logger
	opts       Options
	layers     []int

	mu     sync.RWMutex
	stats  Stats
	seqLog rate.Sometimes
}

// New validates the request and builds a pipeline. Layer resolution
// happens here so an unsatisfiable layer request fails before any
// batch is processed.
func New(m model.Model, a *alphabet.Alphabet, writer output.Writer, logger *zap.Logger, opts Options, sinks ...Sink) (*Pipeline, error) {
	if !opts.Include.NeedsPerTokSlices() && !opts.Include.Bos && !opts.Include.Contacts {
		return nil, fmt.Errorf("at least one representation kind must be requested")
	}

	layers, err := ResolveLayers(m.NumLayers(), opts.ReprLayers)
	if err != nil {
		return nil, err
	}

	converter, err := alphabet.NewBatchConverter(a, opts.TruncationSeqLength)
	if err != nil {
		return nil, err
	}

	if opts.BatchStart < 0 || (opts.BatchEnd != 0 && opts.BatchEnd <= opts.BatchStart) {
		return nil, fmt.Errorf("invalid batch window: [%d, %d)", opts.BatchStart, opts.BatchEnd)
	}

	return &Pipeline{
		model:      m,
		alphabet:   a,
		converter:  converter,
		inferencer: NewInferencer(m, logger),
		extractor:  NewExtractor(opts.Include, layers),
		writer:     writer,
		sinks:      sinks,
		logger:     logger,
		opts:       opts,
		layers:     layers,
		seqLog:     rate.Sometimes{Interval: time.Second},
	}, nil
}

// Layers returns the resolved absolute layer indices.
func (p *Pipeline) Layers() []int {
	return append([]int(nil), p.layers...)
}

// Run processes the dataset and returns final run statistics. Any
// failure aborts the run; artifacts already written remain valid.
func (p *Pipeline) Run(ctx context.Context, ds *fasta.Dataset) (Stats, error) {
	batches, err := ds.BatchIndices(p.opts.ToksPerBatch, p.alphabet.ExtraToksPerSeq())
	if err != nil {
		return p.Stats(), err
	}

	p.mu.Lock()
	p.stats = Stats{TotalBatches: len(batches), StartTime: time.Now()}
	p.mu.Unlock()

	p.logger.Info("Starting extraction run",
		zap.Int("sequences", ds.Len()),
		zap.Int("batches", len(batches)),
		zap.String("model", p.model.Name()),
		zap.Ints("layers", p.layers),
		zap.String("include", p.opts.Include.String()))

	for batchIdx, indices := range batches {
		if err := ctx.Err(); err != nil {
			return p.Stats(), err
		}

		if batchIdx < p.opts.BatchStart || (p.opts.BatchEnd != 0 && batchIdx >= p.opts.BatchEnd) {
			p.mu.Lock()
			p.stats.SkippedBatches++
			p.mu.Unlock()
			continue
		}

		if err := p.processBatch(ctx, ds, batchIdx, len(batches), indices); err != nil {
			return p.Stats(), err
		}

		p.mu.Lock()
		p.stats.ProcessedBatches++
		p.mu.Unlock()
	}

	stats := p.Stats()
	p.logger.Info("Extraction run completed",
		zap.Int("batches_processed", stats.ProcessedBatches),
		zap.Int("batches_skipped", stats.SkippedBatches),
		zap.Int("sequences_written", stats.SequencesWritten),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
	return stats, nil
}

func (p *Pipeline) processBatch(ctx context.Context, ds *fasta.Dataset, batchIdx, totalBatches int, indices []int) error {
	labels := make([]string, len(indices))
	seqs := make([]string, len(indices))
	for i, idx := range indices {
		labels[i], seqs[i] = ds.Get(idx)
	}

	batch, err := p.converter.Convert(labels, seqs)
	if err != nil {
		return fmt.Errorf("batch %d conversion failed: %w", batchIdx, err)
	}

	p.logger.Info("Processing batch",
		zap.Int("batch", batchIdx+1),
		zap.Int("total_batches", totalBatches),
		zap.Int("sequences", len(batch.Tokens)),
		zap.Int("padded_len", batch.PaddedLen()))

	out, err := p.inferencer.Run(ctx, batch.Tokens, p.layers, p.opts.Include.Contacts)
	if err != nil {
		return fmt.Errorf("batch %d: %w", batchIdx, err)
	}

	for i := range batch.Labels {
		id, label := splitHeader(batch.Labels[i])
		rec := record{
			Row:      i,
			ID:       id,
			Label:    label,
			TruncLen: min(p.opts.TruncationSeqLength, len(batch.Strs[i])),
		}

		bundle, err := p.extractor.Extract(out, rec)
		if err != nil {
			return fmt.Errorf("batch %d, sequence %s: %w", batchIdx, id, err)
		}

		if err := p.writer.Write(ctx, bundle); err != nil {
			return fmt.Errorf("failed to store result for %s: %w", id, err)
		}

		for _, sink := range p.sinks {
			if err := sink.StoreMeans(ctx, p.model.Name(), bundle); err != nil {
				return fmt.Errorf("sink failed for %s: %w", id, err)
			}
		}

		p.mu.Lock()
		p.stats.SequencesWritten++
		p.mu.Unlock()

		p.seqLog.Do(func() {
			p.logger.Debug("Sequence extracted",
				zap.String("id", id),
				zap.Int("trunc_len", rec.TruncLen))
		})
	}

	return nil
}

// Stats returns a snapshot of run progress.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// splitHeader separates a FASTA header into identifier and label on
// the first space. Headers without a label yield an empty label.
func splitHeader(header string) (id, label string) {
	parts := strings.SplitN(header, " ", 2)
	id = parts[0]
	if len(parts) == 2 {
		label = strings.TrimSpace(parts[1])
	}
	return id, label
}
