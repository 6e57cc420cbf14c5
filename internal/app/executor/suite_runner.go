package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

const noOutputMessage = "Function returned no value"

type suiteRunner struct {
	runtime ports.Runner
	log     *zap.Logger
}

func newSuiteRunner(runtime ports.Runner, log *zap.Logger) *suiteRunner {
	return &suiteRunner{runtime: runtime, log: log}
}

// Run compiles the submission once and classifies every case in order.
// It never fails: problems that stop the run from starting are reported
// through Outcome.Error.
func (r *suiteRunner) Run(ctx context.Context, submission execution.Submission) execution.Outcome {
	if err := submission.Suite.Validate(); err != nil {
		return execution.FailedOutcome(err)
	}

	prepared, err := r.runtime.Prepare(ctx, submission)
	if err != nil {
		return r.prepareFailed(ctx, submission, err)
	}
	if prepared == nil {
		return execution.FailedOutcome(fmt.Errorf("runner returned nil prepared function"))
	}
	defer prepared.Close()

	exec := newSuiteExecution(submission.Suite, prepared)
	for idx := range submission.Suite.Cases {
		exec.executeTest(ctx, idx)
	}

	return exec.finalize()
}

func (r *suiteRunner) prepareFailed(ctx context.Context, submission execution.Submission, err error) execution.Outcome {
	var compileErr *execution.CompileError
	if errors.As(err, &compileErr) {
		r.log.Debug("submission does not compile",
			zap.String("submission_id", submission.ID),
			zap.NamedError("cause", compileErr.Err),
		)
		return uniformOutcome(submission.Suite, func(tc execution.TestCase) execution.TestResult {
			result := newResult(tc, execution.StatusCompileError)
			result.Error = compileErr.Error()
			return result
		})
	}

	if errors.Is(err, execution.ErrTimeout) || ctx.Err() != nil {
		return uniformOutcome(submission.Suite, cancelledResult)
	}

	r.log.Warn("backend unavailable",
		zap.String("submission_id", submission.ID),
		zap.Error(err),
	)
	return execution.FailedOutcome(fmt.Errorf("code runner not initialized: %w", err))
}

type suiteExecution struct {
	suite    execution.TestSuite
	timeout  time.Duration
	prepared ports.PreparedFunction
	results  []execution.TestResult
}

func newSuiteExecution(suite execution.TestSuite, prepared ports.PreparedFunction) *suiteExecution {
	return &suiteExecution{
		suite:    suite,
		timeout:  suite.Timeout(),
		prepared: prepared,
		results:  make([]execution.TestResult, len(suite.Cases)),
	}
}

func (s *suiteExecution) executeTest(ctx context.Context, idx int) {
	tc := s.suite.Cases[idx]
	if ctx.Err() != nil {
		s.results[idx] = cancelledResult(tc)
		return
	}

	start := time.Now()
	inv, err := s.prepared.Invoke(ctx, tc.Input, s.timeout)
	elapsed := time.Since(start)

	result := classify(tc, inv, err, s.timeout)
	if result.Duration == 0 {
		result.Duration = elapsed
	}
	if result.Status == execution.StatusTimeout && ctx.Err() != nil {
		result = cancelledResult(tc)
		result.Duration = elapsed
	}
	s.results[idx] = result
}

func (s *suiteExecution) finalize() execution.Outcome {
	return execution.Outcome{
		Results: s.results,
		Summary: execution.Summarize(s.results),
	}
}

// classify turns one invocation into exactly one status. Timeouts win over
// everything else, then exceptions, then the absence of a value.
func classify(tc execution.TestCase, inv *execution.Invocation, err error, timeout time.Duration) execution.TestResult {
	var timeoutErr *execution.TimeoutError
	if errors.As(err, &timeoutErr) {
		result := timedOutResult(tc)
		result.Error = timeoutErr.Error()
		return result
	}
	if err == nil && inv != nil && inv.Duration > timeout {
		result := timedOutResult(tc)
		result.Duration = inv.Duration
		return result
	}

	if err != nil {
		result := newResult(tc, execution.StatusRuntimeError)
		var runtimeErr *execution.RuntimeError
		if errors.As(err, &runtimeErr) {
			result.Error = runtimeErr.Message
		} else {
			result.Error = err.Error()
		}
		return result
	}
	if inv == nil {
		result := newResult(tc, execution.StatusRuntimeError)
		result.Error = "runner returned no invocation result"
		return result
	}

	result := newResult(tc, execution.StatusFail)
	result.Duration = inv.Duration

	if inv.Undefined {
		if tc.Expected == nil {
			result.Status = execution.StatusPass
			result.Passed = true
			return result
		}
		result.Status = execution.StatusNoOutput
		result.Error = noOutputMessage
		return result
	}

	actual, err := execution.Canonical(inv.Value)
	if err != nil {
		result.Status = execution.StatusRuntimeError
		result.Error = fmt.Sprintf("unreadable result: %v", err)
		return result
	}
	result.Actual = actual

	if tc.Expected == nil {
		return result
	}
	same, err := execution.SameValue(actual, tc.Expected)
	if err != nil {
		return result
	}
	if same {
		result.Status = execution.StatusPass
		result.Passed = true
	}
	return result
}

func newResult(tc execution.TestCase, status execution.Status) execution.TestResult {
	return execution.TestResult{
		Name:     tc.Name,
		Input:    tc.Input,
		Expected: tc.Expected,
		Status:   status,
	}
}

func timedOutResult(tc execution.TestCase) execution.TestResult {
	result := newResult(tc, execution.StatusTimeout)
	result.Actual = execution.TimeoutSentinel
	result.Error = (&execution.TimeoutError{}).Error()
	return result
}

func cancelledResult(tc execution.TestCase) execution.TestResult {
	result := timedOutResult(tc)
	result.Error = (&execution.TimeoutError{Cancelled: true}).Error()
	return result
}

func uniformOutcome(suite execution.TestSuite, build func(execution.TestCase) execution.TestResult) execution.Outcome {
	results := make([]execution.TestResult, len(suite.Cases))
	for idx, tc := range suite.Cases {
		results[idx] = build(tc)
	}
	return execution.Outcome{
		Results: results,
		Summary: execution.Summarize(results),
	}
}
