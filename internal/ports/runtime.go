package ports

import (
	"context"
	"encoding/json"
	"time"

	"coderun/internal/domain/execution"
)

// PreparedFunction is a compiled entry point ready to be invoked once per test case.
type PreparedFunction interface {
	// Invoke calls the entry point with the given JSON-encoded arguments.
	//
	// A thrown exception is reported as *execution.RuntimeError and an
	// invocation stopped by its budget or by ctx as *execution.TimeoutError.
	// Any other error means the backend itself failed.
	Invoke(ctx context.Context, args []json.RawMessage, timeout time.Duration) (*execution.Invocation, error)
	Close() error
}

// Runner compiles submissions into callable entry points.
type Runner interface {
	// Prepare compiles the submission source. A source that cannot be compiled
	// is reported as *execution.CompileError.
	Prepare(ctx context.Context, submission execution.Submission) (PreparedFunction, error)
	Close() error
}
