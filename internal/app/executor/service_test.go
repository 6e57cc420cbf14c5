package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

func TestExecuteFromProducerRespectsMaxParallel(t *testing.T) {
	t.Parallel()

	submissions := []execution.Submission{
		stubSubmission("s1"),
		stubSubmission("s2"),
		stubSubmission("s3"),
		stubSubmission("s4"),
	}

	maxParallel := 2
	startCh := make(chan struct{}, len(submissions))
	releaseCh := make(chan struct{})
	tracker := &concurrencyTracker{}

	runner := &stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			return &stubPrepared{
				invokeFn: func(ctx context.Context, args []json.RawMessage, timeout time.Duration) (*execution.Invocation, error) {
					done := tracker.enter()
					select {
					case startCh <- struct{}{}:
					default:
					}
					select {
					case <-releaseCh:
					case <-ctx.Done():
						done()
						return nil, &execution.TimeoutError{Cancelled: true}
					}
					done()
					return &execution.Invocation{Value: []byte(`1`)}, nil
				},
			}, nil
		},
	}

	producer := &sequenceSubmissionProducer{submissions: submissions}
	service := NewService(runner)
	defer func() {
		if err := service.Close(); err != nil {
			t.Fatalf("close service: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	var mu sync.Mutex
	var reports []execution.RunReport

	go func() {
		errCh <- service.ExecuteFromProducer(ctx, producer, 0, maxParallel, func(report execution.RunReport) {
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		})
	}()

	for range submissions {
		select {
		case <-startCh:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for submission to start")
		}
		releaseCh <- struct{}{}
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("ExecuteFromProducer error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("ExecuteFromProducer did not finish")
	}

	if tracker.maxActive > maxParallel {
		t.Fatalf("expected max %d concurrent runs, got %d", maxParallel, tracker.maxActive)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) != len(submissions) {
		t.Fatalf("expected %d reports, got %d", len(submissions), len(reports))
	}
	for _, report := range reports {
		if report.Outcome.Summary.Passed != 1 {
			t.Fatalf("expected submission %s to pass, got %+v", report.Submission.ID, report.Outcome)
		}
	}
}

func TestExecuteFromProducerStopsAtMax(t *testing.T) {
	t.Parallel()

	producer := &sequenceSubmissionProducer{submissions: []execution.Submission{
		stubSubmission("a"), stubSubmission("b"), stubSubmission("c"),
	}}
	service := NewService(&stubRunner{})

	var count int
	var mu sync.Mutex
	err := service.ExecuteFromProducer(context.Background(), producer, 2, 1, func(execution.RunReport) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("ExecuteFromProducer error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 reports, got %d", count)
	}
}

func TestExecuteFromProducerProducerError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("producer failed")
	service := NewService(&stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			t.Fatalf("unexpected prepare call")
			return nil, nil
		},
	})
	defer func() {
		if err := service.Close(); err != nil {
			t.Fatalf("close service: %v", err)
		}
	}()

	err := service.ExecuteFromProducer(context.Background(), errorSubmissionProducer{err: wantErr}, 0, 1, nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected error wrapping %v, got %v", wantErr, err)
	}
}

func TestRunTestsBackendUnavailable(t *testing.T) {
	t.Parallel()

	service := NewService(&stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			return nil, errors.New("daemon down")
		},
	})

	outcome := service.RunTests(context.Background(), stubSubmission("s1"))
	if outcome.Error == "" {
		t.Fatalf("expected top-level error")
	}
	if len(outcome.Results) != 0 || outcome.Summary != (execution.RunSummary{}) {
		t.Fatalf("expected empty results and zero summary, got %+v", outcome)
	}
}

func TestRunTestsMalformedSuite(t *testing.T) {
	t.Parallel()

	service := NewService(&stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			t.Fatalf("unexpected prepare call")
			return nil, nil
		},
	})

	submission := execution.Submission{ID: "bad", Source: "x => x"}
	outcome := service.RunTests(context.Background(), submission)
	if outcome.Error == "" {
		t.Fatalf("expected malformed suite error")
	}
	if outcome.Results == nil || len(outcome.Results) != 0 {
		t.Fatalf("expected empty results, got %#v", outcome.Results)
	}
}

func TestRunTestsCompileErrorNeverInvokes(t *testing.T) {
	t.Parallel()

	service := NewService(&stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			return nil, &execution.CompileError{Message: execution.CompileMessage, Err: errors.New("SyntaxError")}
		},
	})

	submission := stubSubmission("s1")
	submission.Suite.Cases = append(submission.Suite.Cases, execution.TestCase{Name: "second", Input: []json.RawMessage{}})

	outcome := service.RunTests(context.Background(), submission)
	if len(outcome.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(outcome.Results))
	}
	for _, result := range outcome.Results {
		if result.Status != execution.StatusCompileError || result.Passed {
			t.Fatalf("expected COMPILE_ERROR, got %+v", result)
		}
		if result.Error != execution.CompileMessage {
			t.Fatalf("unexpected error %q", result.Error)
		}
	}
}

func TestClassifyPrecedence(t *testing.T) {
	t.Parallel()

	timeout := 50 * time.Millisecond
	tests := []struct {
		name     string
		expected json.RawMessage
		inv      *execution.Invocation
		err      error
		want     execution.Status
		message  string
	}{
		{
			name:     "slow but correct",
			expected: json.RawMessage(`6`),
			inv:      &execution.Invocation{Value: []byte(`6`), Duration: 2 * timeout},
			want:     execution.StatusTimeout,
			message:  "Test execution timed out",
		},
		{
			name: "interrupted",
			err:  &execution.TimeoutError{},
			want: execution.StatusTimeout,
		},
		{
			name:    "thrown",
			err:     &execution.RuntimeError{Message: "bad"},
			want:    execution.StatusRuntimeError,
			message: "bad",
		},
		{
			name:     "undefined against defined",
			expected: json.RawMessage(`null`),
			inv:      &execution.Invocation{Undefined: true},
			want:     execution.StatusNoOutput,
		},
		{
			name: "undefined against undefined",
			inv:  &execution.Invocation{Undefined: true},
			want: execution.StatusPass,
		},
		{
			name:     "number against string",
			expected: json.RawMessage(`"2"`),
			inv:      &execution.Invocation{Value: []byte(`2`)},
			want:     execution.StatusFail,
		},
		{
			name:     "key order matters",
			expected: json.RawMessage(`{"b":2,"a":1}`),
			inv:      &execution.Invocation{Value: []byte(`{"a":1,"b":2}`)},
			want:     execution.StatusFail,
		},
		{
			name:     "equal after canonicalisation",
			expected: json.RawMessage(`[1.0, 2]`),
			inv:      &execution.Invocation{Value: []byte(`[1,2]`)},
			want:     execution.StatusPass,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := classify(execution.TestCase{Name: tc.name, Input: []json.RawMessage{}, Expected: tc.expected}, tc.inv, tc.err, timeout)
			if result.Status != tc.want {
				t.Fatalf("expected %s, got %s (%+v)", tc.want, result.Status, result)
			}
			if result.Passed != (tc.want == execution.StatusPass) {
				t.Fatalf("passed flag disagrees with status: %+v", result)
			}
			if tc.message != "" && result.Error != tc.message {
				t.Fatalf("expected error %q, got %q", tc.message, result.Error)
			}
			if tc.want == execution.StatusTimeout && string(result.Actual) != string(execution.TimeoutSentinel) {
				t.Fatalf("expected timeout sentinel, got %s", result.Actual)
			}
		})
	}
}

func TestRunTestsAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	var got time.Duration
	runner := &stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			return &stubPrepared{
				invokeFn: func(_ context.Context, _ []json.RawMessage, timeout time.Duration) (*execution.Invocation, error) {
					got = timeout
					return &execution.Invocation{Value: []byte(`1`)}, nil
				},
			}, nil
		},
	}
	service := NewService(runner, WithDefaultTimeout(750*time.Millisecond))

	outcome := service.RunTests(context.Background(), stubSubmission("default"))
	if outcome.Summary.Passed != 1 {
		t.Fatalf("expected the case to pass, got %+v", outcome)
	}
	if got != 750*time.Millisecond {
		t.Fatalf("expected invoke timeout 750ms, got %s", got)
	}

	explicit := stubSubmission("explicit")
	explicit.Suite.TimeoutMs = 100
	service.RunTests(context.Background(), explicit)
	if got != 100*time.Millisecond {
		t.Fatalf("expected suite timeout to win, got %s", got)
	}
}

func TestRunTestsCachesDeterministicOutcomes(t *testing.T) {
	t.Parallel()

	var prepares int
	var mu sync.Mutex
	runner := &stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			mu.Lock()
			prepares++
			mu.Unlock()
			return &stubPrepared{invocations: []stubInvocation{{inv: &execution.Invocation{Value: []byte(`1`)}}}}, nil
		},
	}
	cache := newMemoryCache()
	service := NewService(runner, WithCache(cache))

	first := service.RunTests(context.Background(), stubSubmission("s1"))
	second := service.RunTests(context.Background(), stubSubmission("s1"))

	if prepares != 1 {
		t.Fatalf("expected one compile, got %d", prepares)
	}
	if first.Summary != second.Summary || second.Results[0].Status != execution.StatusPass {
		t.Fatalf("expected cached outcome, got %+v", second)
	}
}

func TestRunTestsDoesNotCacheTimeouts(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			return &stubPrepared{invocations: []stubInvocation{{err: &execution.TimeoutError{}}}}, nil
		},
	}
	cache := newMemoryCache()
	service := NewService(runner, WithCache(cache))

	outcome := service.RunTests(context.Background(), stubSubmission("s1"))
	if outcome.Results[0].Status != execution.StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", outcome.Results[0].Status)
	}
	if len(cache.entries) != 0 {
		t.Fatalf("expected timeout outcome not to be cached")
	}
}

func TestCloseCancelsInFlightRuns(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	runner := &stubRunner{
		prepareFn: func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
			return &stubPrepared{
				invokeFn: func(ctx context.Context, args []json.RawMessage, timeout time.Duration) (*execution.Invocation, error) {
					close(started)
					<-ctx.Done()
					return nil, &execution.TimeoutError{Cancelled: true}
				},
			}, nil
		},
	}
	service := NewService(runner)

	submission := stubSubmission("s1")
	submission.Suite.Cases = append(submission.Suite.Cases, execution.TestCase{Name: "second", Input: []json.RawMessage{}})

	done := make(chan execution.Outcome, 1)
	go func() {
		done <- service.RunTests(context.Background(), submission)
	}()

	<-started
	if err := service.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var outcome execution.Outcome
	select {
	case outcome = <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not resolve after Close")
	}

	for _, result := range outcome.Results {
		if result.Status != execution.StatusTimeout || result.Error != "run cancelled" {
			t.Fatalf("expected cancelled TIMEOUT, got %+v", result)
		}
	}
	if !runner.closed {
		t.Fatalf("expected runner to be closed")
	}

	after := service.RunTests(context.Background(), submission)
	if after.Error != ErrNotInitialized.Error() {
		t.Fatalf("expected not initialized error, got %q", after.Error)
	}
}

func stubSubmission(id string) execution.Submission {
	return execution.Submission{
		ID:     id,
		Source: "() => 1",
		Suite: execution.TestSuite{
			Cases: []execution.TestCase{{Name: "one", Input: []json.RawMessage{}, Expected: json.RawMessage(`1`)}},
		},
	}
}

type concurrencyTracker struct {
	mu        sync.Mutex
	active    int
	maxActive int
}

func (c *concurrencyTracker) enter() func() {
	c.mu.Lock()
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}
}

type stubRunner struct {
	prepareFn func(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error)
	closeFn   func() error
	closed    bool
}

func (s *stubRunner) Prepare(ctx context.Context, submission execution.Submission) (ports.PreparedFunction, error) {
	if s.prepareFn != nil {
		return s.prepareFn(ctx, submission)
	}
	return &stubPrepared{
		invokeFn: func(context.Context, []json.RawMessage, time.Duration) (*execution.Invocation, error) {
			return &execution.Invocation{Value: []byte(`1`)}, nil
		},
	}, nil
}

func (s *stubRunner) Close() error {
	s.closed = true
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

type stubPrepared struct {
	invokeFn func(ctx context.Context, args []json.RawMessage, timeout time.Duration) (*execution.Invocation, error)
	closeFn  func() error

	invocations []stubInvocation
	mu          sync.Mutex
	calls       int
}

type stubInvocation struct {
	inv *execution.Invocation
	err error
}

func (s *stubPrepared) Invoke(ctx context.Context, args []json.RawMessage, timeout time.Duration) (*execution.Invocation, error) {
	if s.invokeFn != nil {
		return s.invokeFn(ctx, args, timeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.invocations) {
		return nil, errors.New("unexpected invocation")
	}
	call := s.invocations[s.calls]
	s.calls++
	return call.inv, call.err
}

func (s *stubPrepared) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]execution.Outcome
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]execution.Outcome)}
}

func (c *memoryCache) Get(ctx context.Context, submission execution.Submission) (execution.Outcome, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome, ok := c.entries[submission.Source]
	return outcome, ok, nil
}

func (c *memoryCache) Put(ctx context.Context, submission execution.Submission, outcome execution.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[submission.Source] = outcome
	return nil
}

type sequenceSubmissionProducer struct {
	submissions []execution.Submission
	index       int
	mu          sync.Mutex
}

func (p *sequenceSubmissionProducer) NextSubmission(ctx context.Context) (execution.Submission, error) {
	select {
	case <-ctx.Done():
		return execution.Submission{}, ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index >= len(p.submissions) {
		return execution.Submission{}, io.EOF
	}

	submission := p.submissions[p.index]
	p.index++
	return submission, nil
}

type errorSubmissionProducer struct {
	err error
}

func (p errorSubmissionProducer) NextSubmission(ctx context.Context) (execution.Submission, error) {
	return execution.Submission{}, p.err
}
