package docker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

var errPreparedClosed = errors.New("docker runtime: prepared function closed")

var _ ports.PreparedFunction = (*preparedFunction)(nil)

type preparedFunction struct {
	module     *Module
	submission execution.Submission

	mu     sync.Mutex
	closed bool
}

// Invoke runs the entry point once in its own container, so no state
// survives from one case to the next.
func (p *preparedFunction) Invoke(ctx context.Context, args []json.RawMessage, timeout time.Duration) (*execution.Invocation, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errPreparedClosed
	}
	if ctx.Err() != nil {
		return nil, &execution.TimeoutError{Cancelled: true}
	}

	req := newHarnessRequest(modeInvoke, p.submission, timeout)
	req.Args = make([]string, len(args))
	for idx, arg := range args {
		req.Args[idx] = string(arg)
	}

	return p.module.run(ctx, req, timeout)
}

func (p *preparedFunction) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
