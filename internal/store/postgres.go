package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/config"
	"github.com/Phan-Trung-Thuan/esm/internal/output"
)

// EmbeddingStore persists mean sequence representations to PostgreSQL
// with pgvector, one row per (model, sequence, layer). It runs as a
// secondary sink next to the file writer; a store failure aborts the
// run because a half-written table is worse than no table.
type EmbeddingStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewEmbeddingStore connects to the database and verifies the pgvector
// extension is installed.
func NewEmbeddingStore(cfg *config.StoreConfig, logger *zap.Logger) (*EmbeddingStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &EmbeddingStore{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Embedding store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return s, nil
}

func (s *EmbeddingStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sequence_embeddings (
			id BIGSERIAL PRIMARY KEY,
			model TEXT NOT NULL,
			sequence_id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			layer INT NOT NULL,
			embedding VECTOR,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (model, sequence_id, layer)
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure embeddings table: %w", err)
	}

	return nil
}

// StoreMeans inserts one row per requested layer for the sequence.
// Re-running a window upserts, so resumed runs stay idempotent. Bundles
// without mean representations are skipped.
func (s *EmbeddingStore) StoreMeans(ctx context.Context, modelName string, bundle *output.Bundle) error {
	if len(bundle.MeanRepresentations) == 0 {
		return nil
	}

	layers := make([]int, 0, len(bundle.MeanRepresentations))
	for layer := range bundle.MeanRepresentations {
		layers = append(layers, layer)
	}
	sort.Ints(layers)

	valueStrings := make([]string, 0, len(layers))
	valueArgs := make([]interface{}, 0, len(layers)*5)
	for i, layer := range layers {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			i*5+1, i*5+2, i*5+3, i*5+4, i*5+5))
		valueArgs = append(valueArgs,
			modelName,
			bundle.ID,
			bundle.Label,
			layer,
			formatEmbedding(bundle.MeanRepresentations[layer]),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO sequence_embeddings (model, sequence_id, label, layer, embedding)
		VALUES %s
		ON CONFLICT (model, sequence_id, layer)
		DO UPDATE SET label = EXCLUDED.label, embedding = EXCLUDED.embedding`,
		strings.Join(valueStrings, ","))

	if _, err := s.db.ExecContext(ctx, query, valueArgs...); err != nil {
		s.logger.Error("Failed to insert embeddings",
			zap.Error(err),
			zap.String("sequence_id", bundle.ID),
			zap.Ints("layers", layers))
		return fmt.Errorf("failed to insert embeddings for %s: %w", bundle.ID, err)
	}

	s.logger.Debug("Embeddings stored",
		zap.String("sequence_id", bundle.ID),
		zap.Ints("layers", layers))

	return nil
}

// FindSimilar returns the sequence identifiers closest to the query
// embedding by cosine distance, for a given model and layer.
func (s *EmbeddingStore) FindSimilar(ctx context.Context, modelName string, layer int, embedding []float32, limit int) ([]SimilarityResult, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT sequence_id, label, (1 - (embedding <=> $1)) AS similarity
		FROM sequence_embeddings
		WHERE model = $2 AND layer = $3
		ORDER BY embedding <=> $1
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, formatEmbedding(embedding), modelName, layer, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []SimilarityResult
	for rows.Next() {
		var r SimilarityResult
		if err := rows.Scan(&r.SequenceID, &r.Label, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan similarity result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SimilarityResult is one neighbor from a FindSimilar query.
type SimilarityResult struct {
	SequenceID string  `db:"sequence_id"`
	Label      string  `db:"label"`
	Similarity float64 `db:"similarity"`
}

// Close closes the database connection.
func (s *EmbeddingStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// formatEmbedding converts a float32 slice to the pgvector text format.
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// maskDatabaseURL masks the password in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
