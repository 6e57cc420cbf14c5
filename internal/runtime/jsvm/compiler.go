package jsvm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"coderun/internal/domain/execution"
)

var (
	errNotCallable   = errors.New("value is not callable")
	errNoDeclaration = errors.New("no function declaration found")
)

// compileStrategy is one way of turning source text into a callable.
// Every attempt runs in its own sandbox.
type compileStrategy interface {
	Name() string
	Compile(sb *sandbox, source, expectedName string) (goja.Callable, error)
}

// defaultStrategies is the resolution order: first success wins.
func defaultStrategies() []compileStrategy {
	return []compileStrategy{
		expressionStrategy{},
		declarationStrategy{},
		scanStrategy{},
	}
}

type compiler struct {
	pool       *vmPool
	strategies []compileStrategy
}

func newCompiler(pool *vmPool, strategies ...compileStrategy) *compiler {
	if len(strategies) == 0 {
		strategies = defaultStrategies()
	}
	return &compiler{pool: pool, strategies: strategies}
}

// compile returns the sandbox that produced the callable; the caller owns it.
//
// budget bounds each attempt so a source with a top-level infinite loop fails
// to compile instead of hanging. Cancellation of ctx is reported as
// *execution.TimeoutError.
func (c *compiler) compile(ctx context.Context, source, expectedName string, budget time.Duration) (*sandbox, goja.Callable, error) {
	var attempts []error
	for _, strategy := range c.strategies {
		sb, err := c.pool.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, &execution.TimeoutError{Cancelled: true}
			}
			return nil, nil, err
		}

		fn, err := attempt(ctx, strategy, sb, source, expectedName, budget)
		if err == nil {
			return sb, fn, nil
		}
		c.pool.release(sb)

		if ctx.Err() != nil {
			return nil, nil, &execution.TimeoutError{Cancelled: true}
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", strategy.Name(), err))

		// Top-level code that outlives the budget will do so under every strategy.
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			break
		}
	}

	return nil, nil, &execution.CompileError{
		Message: execution.CompileMessage,
		Err:     errors.Join(attempts...),
	}
}

func attempt(ctx context.Context, strategy compileStrategy, sb *sandbox, source, expectedName string, budget time.Duration) (fn goja.Callable, err error) {
	wd := arm(ctx, sb.vm, budget)
	defer wd.release()
	defer func() {
		if r := recover(); r != nil {
			fn, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return strategy.Compile(sb, source, expectedName)
}

// expressionStrategy evaluates the whole source as one expression, covering
// arrow functions and (optionally parenthesized) function expressions.
type expressionStrategy struct{}

func (expressionStrategy) Name() string { return "expression" }

func (expressionStrategy) Compile(sb *sandbox, source, _ string) (goja.Callable, error) {
	expr := strings.TrimRight(strings.TrimSpace(source), "; \t\r\n")
	if expr == "" {
		return nil, errors.New("empty source")
	}

	value, err := sb.vm.RunString("(function () { \"use strict\"; return (" + expr + "\n); })()")
	if err != nil {
		return nil, err
	}
	return callable(value)
}

// declarationStrategy runs the source in strict mode and returns the binding
// named by expectedName or, failing that, by the first top-level declaration.
type declarationStrategy struct{}

func (declarationStrategy) Name() string { return "declaration" }

func (declarationStrategy) Compile(sb *sandbox, source, expectedName string) (goja.Callable, error) {
	name := expectedName
	if name == "" {
		names, err := DeclaredNames(source)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, errNoDeclaration
		}
		name = names[0]
	}
	if !ValidIdentifier(name) {
		return nil, fmt.Errorf("invalid entry point name %q", name)
	}

	wrapped := "(function () {\n\"use strict\";\n" + source + "\n;\n" +
		"if (typeof " + name + " !== \"function\") { throw new TypeError(\"Function '" + name + "' was not defined as a function\"); }\n" +
		"return " + name + ";\n})()"

	value, err := sb.vm.RunString(wrapped)
	if err != nil {
		return nil, err
	}
	return callable(value)
}

// scanStrategy is the last resort: it runs the source as a sloppy-mode
// global script and looks up any `function name(` it can find in the raw
// text on the global object.
type scanStrategy struct{}

func (scanStrategy) Name() string { return "scan" }

func (scanStrategy) Compile(sb *sandbox, source, _ string) (goja.Callable, error) {
	names := ScannedNames(source)
	if len(names) == 0 {
		return nil, errNoDeclaration
	}

	if _, err := sb.vm.RunString(source); err != nil {
		return nil, err
	}

	for _, name := range names {
		if fn, err := callable(sb.vm.Get(name)); err == nil {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("none of %v resolved to a function", names)
}

func callable(value goja.Value) (goja.Callable, error) {
	if value == nil {
		return nil, errNotCallable
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, errNotCallable
	}
	return fn, nil
}
