// Package redis caches outcomes of deterministic runs in Redis.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	goredis "github.com/redis/go-redis/v9"

	"coderun/internal/domain/execution"
	"coderun/internal/infra/wire"
	"coderun/internal/ports"
)

var _ ports.OutcomeCache = (*OutcomeCache)(nil)

// OutcomeCache stores zstd-compressed outcomes keyed by a digest of
// everything that determines them: source, entry point, backend and suite.
type OutcomeCache struct {
	client    goredis.UniversalClient
	ttl       time.Duration
	keyPrefix string

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*OutcomeCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	cache, err := NewWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return cache, nil
}

// NewWithClient builds a cache on an existing client.
func NewWithClient(client goredis.UniversalClient, cfg Config) (*OutcomeCache, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &OutcomeCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: prefix,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Get returns the cached outcome for the submission, if any.
func (c *OutcomeCache) Get(ctx context.Context, submission execution.Submission) (execution.Outcome, bool, error) {
	key, err := c.key(submission)
	if err != nil {
		return execution.Outcome{}, false, err
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return execution.Outcome{}, false, nil
	}
	if err != nil {
		return execution.Outcome{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	raw, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		return execution.Outcome{}, false, fmt.Errorf("decompress %s: %w", key, err)
	}

	var envelope wire.Outcome
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return execution.Outcome{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	outcome, err := envelope.ToOutcome()
	if err != nil {
		return execution.Outcome{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return outcome, true, nil
}

// Put stores the outcome for the submission.
func (c *OutcomeCache) Put(ctx context.Context, submission execution.Submission, outcome execution.Outcome) error {
	key, err := c.key(submission)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(wire.FromOutcome(outcome))
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	payload := c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Close releases the codec and the Redis client.
func (c *OutcomeCache) Close() error {
	c.decoder.Close()
	return errors.Join(c.encoder.Close(), c.client.Close())
}

// key digests the submission without its ID: two submissions of the same
// code against the same suite share an entry.
func (c *OutcomeCache) key(submission execution.Submission) (string, error) {
	keyed := submission
	keyed.ID = ""

	payload, err := json.Marshal(wire.FromSubmission(keyed))
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}

	sum := sha256.Sum256(payload)
	return c.keyPrefix + hex.EncodeToString(sum[:]), nil
}
