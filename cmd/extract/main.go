package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/cache"
	"github.com/Phan-Trung-Thuan/esm/internal/config"
	"github.com/Phan-Trung-Thuan/esm/internal/extract"
	"github.com/Phan-Trung-Thuan/esm/internal/fasta"
	"github.com/Phan-Trung-Thuan/esm/internal/logger"
	"github.com/Phan-Trung-Thuan/esm/internal/model"
	"github.com/Phan-Trung-Thuan/esm/internal/output"
	"github.com/Phan-Trung-Thuan/esm/internal/store"
	"github.com/Phan-Trung-Thuan/esm/internal/web"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		modelLoc     = flag.String("model", "", "Pretrained model name or ONNX file path")
		fastaFile    = flag.String("fasta", "", "Input FASTA file")
		outputDir    = flag.String("output-dir", "", "Directory for per-sequence result files")
		format       = flag.String("format", "", "Output format: parquet or json")
		include      = flag.String("include", "", "Comma-separated representation kinds: mean,per_tok,avg_per_tok,bos,contacts")
		reprLayers   = flag.String("repr-layers", "", "Comma-separated layer indices, negatives count from the end")
		toksPerBatch = flag.Int("toks-per-batch", 0, "Token budget per batch")
		truncation   = flag.Int("truncation-seq-length", 0, "Maximum residues kept per sequence")
		batchStart   = flag.Int("batch-start", 0, "First batch ordinal to process")
		batchEnd     = flag.Int("batch-end", 0, "Batch ordinal to stop before (0 = run to the end)")
		nogpu        = flag.Bool("nogpu", false, "Run on CPU even when a GPU is available")
	)
	flag.Parse()

	if *modelLoc == "" && *configPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --model esm2_t33_650M_UR50D.onnx --fasta proteins.fasta --output-dir out --include mean\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --model esm2_t6_8M_UR50D.onnx --fasta proteins.fasta --output-dir out --include per_tok,contacts --repr-layers 0,-1\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config configs/default.yaml --batch-start 100 --batch-end 200\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags set on the command line override file and environment values.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model.Location = *modelLoc
		case "fasta":
			cfg.Input.FastaFile = *fastaFile
		case "output-dir":
			cfg.Output.Dir = *outputDir
		case "format":
			cfg.Output.Format = *format
		case "include":
			cfg.Extract.Include = splitList(*include)
		case "repr-layers":
			layers, err := parseIntList(*reprLayers)
			if err != nil {
				flagErr = fmt.Errorf("invalid --repr-layers: %w", err)
				return
			}
			cfg.Extract.ReprLayers = layers
		case "toks-per-batch":
			cfg.Extract.ToksPerBatch = *toksPerBatch
		case "truncation-seq-length":
			cfg.Extract.TruncationSeqLength = *truncation
		case "batch-start":
			cfg.Extract.BatchStart = *batchStart
		case "batch-end":
			cfg.Extract.BatchEnd = *batchEnd
		case "nogpu":
			cfg.Model.NoGPU = *nogpu
		}
	})
	if flagErr != nil {
		fmt.Fprintf(os.Stderr, "%v\n", flagErr)
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File: &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting representation extraction",
		zap.String("model", cfg.Model.Location),
		zap.String("fasta", cfg.Input.FastaFile),
		zap.String("output_dir", cfg.Output.Dir))

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling run...")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Extraction failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	m, a, err := model.LoadModelAndAlphabet(cfg.Model.Location, model.Options{NoGPU: cfg.Model.NoGPU}, log.WithComponent("model").Logger)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer m.Close()

	ds, err := fasta.FromFile(cfg.Input.FastaFile)
	if err != nil {
		return err
	}
	log.Info("Dataset loaded",
		zap.String("file", cfg.Input.FastaFile),
		zap.Int("sequences", ds.Len()))

	writer, err := output.NewFileWriter(cfg.Output.Dir, cfg.Output.Format, log.WithComponent("output").Logger)
	if err != nil {
		return fmt.Errorf("failed to create output writer: %w", err)
	}

	var sinks []extract.Sink
	if cfg.Store.Enabled {
		embStore, err := store.NewEmbeddingStore(&cfg.Store, log.WithComponent("store").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize embedding store: %w", err)
		}
		defer embStore.Close()
		sinks = append(sinks, embStore)
	}
	if cfg.Cache.Enabled {
		meanCache, err := cache.NewMeanCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mean cache: %w", err)
		}
		defer meanCache.Close()
		sinks = append(sinks, meanCache)
	}

	includeSet, err := extract.ParseIncludeSet(cfg.Extract.Include)
	if err != nil {
		return err
	}

	pipeline, err := extract.New(m, a, writer, log.WithComponent("extract").Logger, extract.Options{
		Include:             includeSet,
		ReprLayers:          cfg.Extract.ReprLayers,
		ToksPerBatch:        cfg.Extract.ToksPerBatch,
		TruncationSeqLength: cfg.Extract.TruncationSeqLength,
		BatchStart:          cfg.Extract.BatchStart,
		BatchEnd:            cfg.Extract.BatchEnd,
	}, sinks...)
	if err != nil {
		return err
	}

	if cfg.Status.Enabled {
		statusServer := web.NewStatusServer(&cfg.Status, pipeline, m.Name(), log.WithComponent("web").Logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				log.Error("Status server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := statusServer.Stop(shutdownCtx); err != nil {
				log.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
	}

	stats, err := pipeline.Run(ctx, ds)
	if err != nil {
		return err
	}

	log.Info("Extraction completed successfully",
		zap.Int("sequences_written", stats.SequencesWritten),
		zap.Int("batches_processed", stats.ProcessedBatches),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
