package jsvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

var errPreparedClosed = errors.New("jsvm: prepared function closed")

const stackOverflowMessage = "Maximum call stack size exceeded"

var _ ports.PreparedFunction = (*preparedFunction)(nil)

// preparedFunction owns the sandbox its entry point was compiled in. The
// runtime is single-threaded, so invocations are serialized.
type preparedFunction struct {
	pool *vmPool

	mu     sync.Mutex
	sb     *sandbox
	fn     goja.Callable
	closed bool
}

func (p *preparedFunction) Invoke(ctx context.Context, args []json.RawMessage, timeout time.Duration) (*execution.Invocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errPreparedClosed
	}
	if ctx.Err() != nil {
		return nil, &execution.TimeoutError{Cancelled: true}
	}

	// Arguments are rebuilt inside the runtime for every call so one case
	// cannot observe mutations another case made to its inputs.
	values := make([]goja.Value, len(args))
	for idx, arg := range args {
		value, err := p.sb.parse(goja.Undefined(), p.sb.vm.ToValue(string(arg)))
		if err != nil {
			return nil, fmt.Errorf("jsvm: decode argument %d: %w", idx, err)
		}
		values[idx] = value
	}

	wd := arm(ctx, p.sb.vm, timeout)
	start := time.Now()
	inv, err := p.call(values)
	elapsed := time.Since(start)
	wd.release()

	if err != nil {
		return nil, classify(err)
	}
	inv.Duration = elapsed
	return inv, nil
}

// call invokes the entry point and renders its result while the watchdog is
// armed: a hostile toJSON or getter is subject to the same budget.
func (p *preparedFunction) call(values []goja.Value) (inv *execution.Invocation, err error) {
	defer func() {
		if r := recover(); r != nil {
			inv, err = nil, &execution.RuntimeError{Message: fmt.Sprintf("%v", r)}
		}
	}()

	result, err := p.fn(goja.Undefined(), values...)
	if err != nil {
		return nil, err
	}
	if result == nil || goja.IsUndefined(result) {
		return &execution.Invocation{Undefined: true}, nil
	}

	rendered, err := p.sb.stringify(goja.Undefined(), result)
	if err != nil {
		return nil, err
	}
	if rendered == nil || goja.IsUndefined(rendered) {
		// Functions and symbols have no JSON form.
		return &execution.Invocation{Undefined: true}, nil
	}
	return &execution.Invocation{Value: []byte(rendered.String())}, nil
}

func (p *preparedFunction) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.pool.release(p.sb)
	p.sb = nil
	p.fn = nil
	return nil
}

// classify maps engine errors onto the execution error taxonomy.
func classify(err error) error {
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return &execution.RuntimeError{Message: stackOverflowMessage}
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(error); ok && !errors.Is(reason, errBudgetExceeded) {
			return &execution.TimeoutError{Cancelled: true}
		}
		return &execution.TimeoutError{}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &execution.RuntimeError{Message: exceptionMessage(exception)}
	}

	var runtimeErr *execution.RuntimeError
	if errors.As(err, &runtimeErr) {
		return runtimeErr
	}

	return &execution.RuntimeError{Message: err.Error()}
}

// exceptionMessage mirrors `error.message`, falling back to the thrown value
// itself for non-Error throws.
func exceptionMessage(exception *goja.Exception) string {
	value := exception.Value()
	if value == nil {
		return exception.Error()
	}
	if obj, ok := value.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) {
			return msg.String()
		}
	}
	return value.String()
}
