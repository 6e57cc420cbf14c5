package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"coderun/internal/domain/execution"
	"coderun/internal/infra/httpapi"
	redisinfra "coderun/internal/infra/redis"
	"coderun/internal/logger"
	runtimex "coderun/internal/runtime"
	"coderun/internal/runtime/docker"
)

const (
	defaultKafkaBrokers      = "kafka:9092"
	defaultKafkaTopic        = "submissions"
	defaultKafkaResultsTopic = "run-results"
	defaultKafkaGroupID      = "coderun-runner"
	defaultNodeImage         = "node:20-alpine"
	containerWorkdir         = "/tmp"
	defaultCacheTTL          = time.Hour
)

type appConfig struct {
	// KafkaBrokers is empty when KAFKA_BROKERS is explicitly set to "".
	KafkaBrokers     []string
	SubmissionsTopic string
	ResultsTopic     string
	GroupID          string
	MaxSubmissions   int
	MaxParallel      int
	Backend          runtimex.Kind
	DefaultTimeout   time.Duration
	Docker           docker.Config
	HTTP             httpapi.Config
	Redis            redisinfra.Config
	Log              logger.Config
}

func loadAppConfig() (appConfig, error) {
	nodeCommand, err := parseCommand(os.Getenv("NODE_COMMAND"))
	if err != nil {
		return appConfig{}, fmt.Errorf("NODE_COMMAND: %w", err)
	}

	backend := runtimex.Kind(envOrDefault("RUNNER_BACKEND", string(runtimex.KindJSVM)))
	if backend != runtimex.KindJSVM && backend != runtimex.KindDocker {
		return appConfig{}, fmt.Errorf("RUNNER_BACKEND: unknown backend %q", backend)
	}

	redisCfg := redisinfra.DefaultConfig()
	redisCfg.Addr = os.Getenv("REDIS_ADDR")
	redisCfg.TTL = parseDuration(os.Getenv("CACHE_TTL"), defaultCacheTTL)

	return appConfig{
		KafkaBrokers:     parseBrokerList(lookupEnv("KAFKA_BROKERS", defaultKafkaBrokers)),
		SubmissionsTopic: envOrDefault("KAFKA_TOPIC", defaultKafkaTopic),
		ResultsTopic:     envOrDefault("KAFKA_RESULTS_TOPIC", defaultKafkaResultsTopic),
		GroupID:          envOrDefault("KAFKA_GROUP_ID", defaultKafkaGroupID),
		MaxSubmissions:   parseMaxSubmissions(os.Getenv("SUBMISSIONS_EXPECTED")),
		MaxParallel:      parseMaxParallel(os.Getenv("RUNNER_MAX_PARALLEL")),
		Backend:          backend,
		DefaultTimeout:   parseDuration(os.Getenv("RUNNER_DEFAULT_TIMEOUT"), execution.DefaultTimeout),
		Docker: docker.Config{
			Image:   envOrDefault("NODE_IMAGE", defaultNodeImage),
			Workdir: envOrDefault("NODE_WORKDIR", containerWorkdir),
			Command: nodeCommand,
			DefaultLimits: execution.RunLimits{
				MemoryLimitBytes: parseBytes(os.Getenv("RUNNER_MEMORY_LIMIT")),
			},
		},
		HTTP: httpapi.Config{
			Addr:         os.Getenv("HTTP_ADDR"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  time.Minute,
		},
		Redis: redisCfg,
		Log: logger.Config{
			Level:  envOrDefault("LOG_LEVEL", "info"),
			Format: envOrDefault("LOG_FORMAT", "json"),
		},
	}, nil
}

func (c appConfig) kafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// lookupEnv is envOrDefault that honours a variable explicitly set to "".
func lookupEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func parseBrokerList(raw string) []string {
	fields := strings.Split(raw, ",")
	brokers := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func parseMaxSubmissions(raw string) int {
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	if value < 0 {
		return 0
	}
	return value
}

func parseMaxParallel(raw string) int {
	if raw == "" {
		return 1
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 1
	}
	return value
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseBytes(raw string) int64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// parseCommand splits a shell-style command line; empty selects the default.
func parseCommand(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return shlex.Split(raw)
}
