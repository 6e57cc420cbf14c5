package jsvm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
	runtimex "coderun/internal/runtime"
)

const (
	defaultPoolSize     = 4
	defaultMaxCallStack = 10_000
)

// Config describes the embedded JavaScript backend.
type Config struct {
	// PoolSize is the number of fresh runtimes kept warm. Zero selects a default.
	PoolSize int
	// MaxCallStackSize bounds recursion depth inside submissions. Zero selects a default.
	MaxCallStackSize int
	// CompileTimeout bounds top-level evaluation of a submission. Zero uses the
	// suite's per-case timeout.
	CompileTimeout time.Duration
	Logger         *zap.Logger
}

// Module runs submissions inside goja runtimes. Every run gets runtimes no
// other run has touched, and invocations are preempted by interrupting the
// runtime, so a hung submission never blocks its caller past the budget.
type Module struct {
	cfg      Config
	pool     *vmPool
	compiler *compiler
	log      *zap.Logger
}

var _ runtimex.Module = (*Module)(nil)

// New constructs a Module using the supplied configuration.
func New(cfg Config) *Module {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = defaultMaxCallStack
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	pool := newVMPool(cfg.PoolSize, cfg.MaxCallStackSize)
	return &Module{
		cfg:      cfg,
		pool:     pool,
		compiler: newCompiler(pool),
		log:      log,
	}
}

func (m *Module) Kind() runtimex.Kind {
	return runtimex.KindJSVM
}

// Prepare compiles the submission into a callable bound to a dedicated runtime.
func (m *Module) Prepare(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
	budget := m.cfg.CompileTimeout
	if budget <= 0 {
		budget = submission.Suite.Timeout()
	}

	start := time.Now()
	sb, fn, err := m.compiler.compile(ctx, submission.Source, submission.ExpectedName, budget)
	if err != nil {
		m.log.Debug("compile failed",
			zap.String("submission_id", submission.ID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	return &preparedFunction{pool: m.pool, sb: sb, fn: fn}, nil
}

// Close drops every warm runtime. Prepared functions stay usable until closed.
func (m *Module) Close() error {
	m.pool.close()
	return nil
}
