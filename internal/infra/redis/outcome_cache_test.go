package redis

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderun/internal/domain/execution"
)

func newTestCache(t *testing.T) (*OutcomeCache, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})

	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	cache, err := NewWithClient(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	return cache, server
}

func sampleSubmission(id string) execution.Submission {
	return execution.Submission{
		ID:     id,
		Source: "function double(n) { return n * 2; }",
		Suite: execution.TestSuite{
			TimeoutMs: 100,
			Cases: []execution.TestCase{
				{Name: "double 3", Input: []json.RawMessage{json.RawMessage(`3`)}, Expected: json.RawMessage(`6`)},
			},
		},
	}
}

func sampleOutcome() execution.Outcome {
	return execution.Outcome{
		Results: []execution.TestResult{
			{
				Name:     "double 3",
				Input:    []json.RawMessage{json.RawMessage(`3`)},
				Expected: json.RawMessage(`6`),
				Actual:   json.RawMessage(`6`),
				Passed:   true,
				Status:   execution.StatusPass,
				Duration: 2 * time.Millisecond,
			},
		},
		Summary: execution.RunSummary{Passed: 1, Total: 1, Score: 100},
	}
}

func TestOutcomeCacheMissThenHit(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, sampleSubmission("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, sampleSubmission("a"), sampleOutcome()))

	got, ok, err := cache.Get(ctx, sampleSubmission("b"))
	require.NoError(t, err)
	require.True(t, ok, "submissions differing only by ID share an entry")
	assert.Equal(t, sampleOutcome(), got)
}

func TestOutcomeCacheKeysOnSuite(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, sampleSubmission("a"), sampleOutcome()))

	other := sampleSubmission("a")
	other.Suite.Cases[0].Expected = json.RawMessage(`7`)
	_, ok, err := cache.Get(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)

	backend := sampleSubmission("a")
	backend.Backend = "docker"
	_, ok, err = cache.Get(ctx, backend)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutcomeCacheHonoursTTL(t *testing.T) {
	t.Parallel()

	cache, server := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, sampleSubmission("a"), sampleOutcome()))
	server.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, sampleSubmission("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutcomeCacheStoresCompressedPayload(t *testing.T) {
	t.Parallel()

	cache, server := newTestCache(t)
	require.NoError(t, cache.Put(context.Background(), sampleSubmission("a"), sampleOutcome()))

	keys := server.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], defaultKeyPrefix)

	value, err := server.Get(keys[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(value, "\x28\xb5\x2f\xfd"), "expected a zstd frame")
}

func TestOutcomeCacheReportsCorruptEntries(t *testing.T) {
	t.Parallel()

	cache, server := newTestCache(t)
	key, err := cache.key(sampleSubmission("a"))
	require.NoError(t, err)
	require.NoError(t, server.Set(key, "not zstd"))

	_, ok, err := cache.Get(context.Background(), sampleSubmission("a"))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestOutcomeCacheRejectsUnknownStatuses(t *testing.T) {
	t.Parallel()

	cache, server := newTestCache(t)
	key, err := cache.key(sampleSubmission("a"))
	require.NoError(t, err)

	stale := cache.encoder.EncodeAll([]byte(`{"results":[{"name":"x","input":[],"status":"OK"}],"summary":{}}`), nil)
	require.NoError(t, server.Set(key, string(stale)))

	_, ok, err := cache.Get(context.Background(), sampleSubmission("a"))
	assert.ErrorContains(t, err, "unknown status")
	assert.False(t, ok)
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
