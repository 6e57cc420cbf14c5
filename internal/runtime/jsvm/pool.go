package jsvm

import (
	"context"
	"errors"
	"sync"

	"github.com/dop251/goja"
)

var errPoolClosed = errors.New("jsvm: pool closed")

// sandbox is one JavaScript runtime plus the JSON intrinsics captured before
// any submitted code ran in it, so submissions cannot replace them.
type sandbox struct {
	vm        *goja.Runtime
	parse     goja.Callable
	stringify goja.Callable
}

// vmPool hands out fresh runtimes. A runtime is used by exactly one compile
// attempt or run and is dropped on release; the pool only keeps unused,
// never-touched runtimes warm.
type vmPool struct {
	maxCallStack int

	mu     sync.Mutex
	idle   chan *sandbox
	closed bool
}

func newVMPool(size, maxCallStack int) *vmPool {
	if size < 0 {
		size = 0
	}
	p := &vmPool{
		maxCallStack: maxCallStack,
		idle:         make(chan *sandbox, size),
	}
	for i := 0; i < size; i++ {
		p.idle <- p.newSandbox()
	}
	return p
}

func (p *vmPool) acquire(ctx context.Context) (*sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errPoolClosed
	}

	select {
	case sb := <-p.idle:
		return sb, nil
	default:
		return p.newSandbox(), nil
	}
}

// release discards a used runtime and tops the pool up with a fresh one.
func (p *vmPool) release(sb *sandbox) {
	if sb == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.idle <- p.newSandbox():
	default:
	}
}

func (p *vmPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for {
		select {
		case <-p.idle:
		default:
			return
		}
	}
}

func (p *vmPool) newSandbox() *sandbox {
	vm := goja.New()
	if p.maxCallStack > 0 {
		vm.SetMaxCallStackSize(p.maxCallStack)
	}

	// Submissions commonly log while computing; output is discarded.
	console := vm.NewObject()
	for _, method := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		_ = console.Set(method, func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
	_ = vm.Set("console", console)

	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		panic("jsvm: JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		panic("jsvm: JSON.stringify is not callable")
	}

	return &sandbox{vm: vm, parse: parse, stringify: stringify}
}
