package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/config"
	"github.com/Phan-Trung-Thuan/esm/internal/output"
)

const keyPrefix = "esm"

// MeanCache mirrors mean sequence representations into Redis so other
// services can look them up without touching the artifact files. The
// cache is best effort: a write failure is logged and swallowed, never
// aborting the extraction run.
type MeanCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// CachedMean is the JSON value stored per (model, sequence, layer).
type CachedMean struct {
	Model      string    `json:"model"`
	SequenceID string    `json:"sequence_id"`
	Label      string    `json:"label,omitempty"`
	Layer      int       `json:"layer"`
	Embedding  []float32 `json:"embedding"`
	CachedAt   time.Time `json:"cached_at"`
}

// NewMeanCache connects to Redis and verifies the connection.
func NewMeanCache(cfg *config.CacheConfig, logger *zap.Logger) (*MeanCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Mean representation cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return &MeanCache{client: client, ttl: cfg.DefaultTTL, logger: logger}, nil
}

// StoreMeans caches one entry per layer using a Redis pipeline. Errors
// are downgraded to warnings; the durable artifact on disk is the
// source of truth, the cache only accelerates lookups.
func (c *MeanCache) StoreMeans(ctx context.Context, modelName string, bundle *output.Bundle) error {
	if len(bundle.MeanRepresentations) == 0 {
		return nil
	}

	layers := make([]int, 0, len(bundle.MeanRepresentations))
	for layer := range bundle.MeanRepresentations {
		layers = append(layers, layer)
	}
	sort.Ints(layers)

	pipe := c.client.Pipeline()
	now := time.Now()
	for _, layer := range layers {
		entry := CachedMean{
			Model:      modelName,
			SequenceID: bundle.ID,
			Label:      bundle.Label,
			Layer:      layer,
			Embedding:  bundle.MeanRepresentations[layer],
			CachedAt:   now,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			c.logger.Warn("Failed to marshal mean for caching",
				zap.Error(err),
				zap.String("sequence_id", bundle.ID))
			continue
		}
		pipe.Set(ctx, meanKey(modelName, bundle.ID, layer), data, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to cache mean representations",
			zap.Error(err),
			zap.String("sequence_id", bundle.ID))
		return nil
	}

	c.logger.Debug("Mean representations cached",
		zap.String("sequence_id", bundle.ID),
		zap.Ints("layers", layers))

	return nil
}

// GetMean looks up a cached mean representation. A miss returns
// (nil, nil).
func (c *MeanCache) GetMean(ctx context.Context, modelName, sequenceID string, layer int) (*CachedMean, error) {
	data, err := c.client.Get(ctx, meanKey(modelName, sequenceID, layer)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	var entry CachedMean
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// Corrupted entries are evicted rather than surfaced.
		c.client.Del(ctx, meanKey(modelName, sequenceID, layer))
		return nil, nil
	}
	return &entry, nil
}

// Close closes the Redis connection.
func (c *MeanCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func meanKey(modelName, sequenceID string, layer int) string {
	return fmt.Sprintf("%s:mean:%s:%s:%d", keyPrefix, modelName, sequenceID, layer)
}

// maskRedisURL masks the password in a Redis URL for logging.
func maskRedisURL(url string) string {
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
