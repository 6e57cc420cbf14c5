package docker

import (
	"time"

	"go.uber.org/zap"

	"coderun/internal/domain/execution"
)

const (
	defaultImage        = "node:20-alpine"
	defaultWorkdir      = "/tmp"
	defaultStartupGrace = 2 * time.Second
)

// Config describes how to create a Docker-backed runtime module.
type Config struct {
	// Image is the Node image the harness runs in.
	Image   string
	Workdir string
	// Command launches the harness; the harness and request file names are appended.
	Command []string
	// DefaultLimits apply to every container unless a run overrides them.
	DefaultLimits execution.RunLimits
	// StartupGrace is added to every budget to cover container and Node start-up.
	// The harness still measures the invocation itself.
	StartupGrace time.Duration
	Logger       *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = defaultImage
	}
	if c.Workdir == "" {
		c.Workdir = defaultWorkdir
	}
	if len(c.Command) == 0 {
		c.Command = []string{"node"}
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = defaultStartupGrace
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.DefaultLimits = normalizeLimits(c.DefaultLimits)
	return c
}
