package runtime

import (
	"context"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

// Kind identifies an execution backend.
type Kind string

const (
	// KindJSVM runs submissions inside an embedded JavaScript engine.
	KindJSVM Kind = "jsvm"
	// KindDocker runs every invocation in a throwaway Node container.
	KindDocker Kind = "docker"
)

// Engine compiles submissions by delegating to backend modules.
type Engine interface {
	Prepare(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error)
	Close() error
}

// Module provides one execution backend.
type Module interface {
	Kind() Kind
	Prepare(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error)
	Close() error
}
