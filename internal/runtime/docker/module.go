package docker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
	runtimex "coderun/internal/runtime"
)

// Module runs every compile and every invocation in a fresh Node container.
type Module struct {
	cfg    Config
	client dockerClient
	engine *containerEngine
	log    *zap.Logger
	nonce  func() string

	pullMu sync.Mutex
	pulled bool
}

var _ runtimex.Module = (*Module)(nil)

// New constructs a Module talking to the Docker daemon configured in the environment.
func New(cfg Config) (*Module, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runtime: create client: %w", err)
	}
	return newModuleWithClient(cli, cfg), nil
}

func newModuleWithClient(cli dockerClient, cfg Config) *Module {
	cfg = cfg.withDefaults()
	return &Module{
		cfg:    cfg,
		client: cli,
		engine: newContainerEngine(cli, cfg.DefaultLimits),
		log:    cfg.Logger,
		nonce:  uuid.NewString,
	}
}

func (m *Module) Kind() runtimex.Kind {
	return runtimex.KindDocker
}

// Prepare checks in a throwaway container that the source resolves to a
// callable. Nothing is kept running between invocations.
func (m *Module) Prepare(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
	if err := m.ensureImage(ctx); err != nil {
		return nil, err
	}

	timeout := submission.Suite.Timeout()
	_, err := m.run(ctx, newHarnessRequest(modeCompile, submission, timeout), timeout)
	if err != nil {
		var timeoutErr *execution.TimeoutError
		if errors.As(err, &timeoutErr) && !timeoutErr.Cancelled {
			err = &execution.CompileError{Message: execution.CompileMessage, Err: err}
		}
		m.log.Debug("compile failed",
			zap.String("submission_id", submission.ID),
			zap.Error(err),
		)
		return nil, err
	}

	return &preparedFunction{module: m, submission: submission}, nil
}

// Close releases the Docker client.
func (m *Module) Close() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	return nil
}

// ensureImage pulls the image once. A failed pull is retried by the next run.
func (m *Module) ensureImage(ctx context.Context) error {
	m.pullMu.Lock()
	defer m.pullMu.Unlock()

	if m.pulled {
		return nil
	}
	if err := m.engine.pullImage(ctx, m.cfg.Image); err != nil {
		return err
	}
	m.pulled = true
	return nil
}

func (m *Module) run(ctx context.Context, req harnessRequest, timeout time.Duration) (*execution.Invocation, error) {
	req.Nonce = m.nonce()
	files, err := harnessFiles(req)
	if err != nil {
		return nil, err
	}

	cmd := make([]string, 0, len(m.cfg.Command)+2)
	cmd = append(cmd, m.cfg.Command...)
	cmd = append(cmd, harnessFile, requestFile)

	limits := execution.RunLimits{TimeLimit: timeout + m.cfg.StartupGrace}
	result, err := m.engine.runContainer(ctx, m.cfg, limits, cmd, files)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &execution.TimeoutError{Cancelled: true}
		}
		return nil, fmt.Errorf("docker runtime: %w", err)
	}

	if result.TimedOut {
		m.log.Debug("container stopped after time limit", zap.Duration("elapsed", result.Duration))
	}
	return interpret(result, req.Nonce)
}
