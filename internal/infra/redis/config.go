package redis

import "time"

const defaultKeyPrefix = "coderun:outcome:"

// Config holds the connection and retention settings of the outcome cache.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	// TTL bounds how long an outcome is served from the cache. Zero keeps entries until evicted.
	TTL       time.Duration
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
		TTL:          time.Hour,
		KeyPrefix:    defaultKeyPrefix,
	}
}
