package jsvm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// errBudgetExceeded is the interrupt value used when an invocation outlives its budget.
var errBudgetExceeded = errors.New("jsvm: time budget exceeded")

// watchdog interrupts a runtime when its budget elapses or ctx ends.
// Interrupts are only delivered while the watchdog is armed, so a late timer
// can never leak into the next invocation on the same runtime.
type watchdog struct {
	vm *goja.Runtime

	mu    sync.Mutex
	armed bool

	timer   *time.Timer
	stopCtx func() bool
}

func arm(ctx context.Context, vm *goja.Runtime, budget time.Duration) *watchdog {
	w := &watchdog{vm: vm, armed: true}
	if budget > 0 {
		w.timer = time.AfterFunc(budget, func() { w.fire(errBudgetExceeded) })
	}
	w.stopCtx = context.AfterFunc(ctx, func() { w.fire(context.Cause(ctx)) })
	return w
}

func (w *watchdog) fire(reason error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		w.vm.Interrupt(reason)
	}
}

func (w *watchdog) release() {
	w.mu.Lock()
	w.armed = false
	w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.stopCtx()
	w.vm.ClearInterrupt()
}
