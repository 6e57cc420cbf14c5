package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

// ErrNotInitialized is reported for runs requested after Close.
var ErrNotInitialized = errors.New("code runner not initialized")

// Option customises a Service.
type Option func(*Service)

// WithCache stores outcomes of deterministic runs and serves repeats from it.
func WithCache(cache ports.OutcomeCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDefaultTimeout sets the per-case budget of suites that leave it unset.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.defaultTimeout = timeout
		}
	}
}

// Service coordinates test runs through a runtime implementation.
type Service struct {
	runtime ports.Runner
	runner  *suiteRunner
	cache   ports.OutcomeCache
	log     *zap.Logger

	defaultTimeout time.Duration

	mu     sync.Mutex
	nextID uint64
	active map[uint64]context.CancelFunc
	closed bool
}

// NewService constructs a Service with the provided runtime dependency.
func NewService(runtime ports.Runner, opts ...Option) *Service {
	s := &Service{
		runtime: runtime,
		log:     zap.NewNop(),
		active:  make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runner = newSuiteRunner(runtime, s.log)
	return s
}

// RunTests compiles the submission and checks it against its suite.
//
// Results always follow the order of the suite's cases. Cancelling ctx or
// closing the service resolves the case in flight and every remaining case
// to TIMEOUT.
func (s *Service) RunTests(ctx context.Context, submission execution.Submission) execution.Outcome {
	runCtx, release, err := s.track(ctx)
	if err != nil {
		return execution.FailedOutcome(err)
	}
	defer release()

	if submission.Suite.TimeoutMs == 0 && s.defaultTimeout > 0 {
		submission.Suite.TimeoutMs = s.defaultTimeout.Milliseconds()
	}

	if outcome, ok := s.cached(runCtx, submission); ok {
		return outcome
	}

	start := time.Now()
	outcome := s.runner.Run(runCtx, submission)
	s.log.Debug("run finished",
		zap.String("submission_id", submission.ID),
		zap.Int("passed", outcome.Summary.Passed),
		zap.Int("total", outcome.Summary.Total),
		zap.Duration("elapsed", time.Since(start)),
	)

	s.store(runCtx, submission, outcome)
	return outcome
}

// ExecuteFromProducer pulls submissions from the supplied producer and runs them with bounded parallelism.
//
// If maxSubmissions is greater than zero the execution stops after the specified
// number of submissions has been processed. Otherwise it keeps consuming until the
// context is cancelled or the producer signals completion via io.EOF.
//
// When onReport is provided it is invoked after every run with
// the corresponding run report.
func (s *Service) ExecuteFromProducer(
	ctx context.Context,
	producer ports.SubmissionProducer,
	maxSubmissions int,
	maxParallel int,
	onReport func(execution.RunReport),
) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)
	processed := 0

	finish := func(err error) error {
		wg.Wait()
		return err
	}

	for {
		if maxSubmissions > 0 && processed >= maxSubmissions {
			return finish(nil)
		}

		submission, err := producer.NextSubmission(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return finish(nil)
			}

			return finish(fmt.Errorf("get next submission: %w", err))
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return finish(nil)
		}
		wg.Add(1)
		processed++
		go func(submission execution.Submission) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			outcome := s.RunTests(ctx, submission)
			if onReport != nil {
				onReport(execution.RunReport{
					Submission: submission,
					Outcome:    outcome,
					Duration:   time.Since(start),
				})
			}
		}(submission)
	}
}

// Close cancels every run in flight and releases the underlying runtime.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()

	return s.runtime.Close()
}

func (s *Service) track(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrNotInitialized
	}

	runCtx, cancel := context.WithCancel(ctx)
	id := s.nextID
	s.nextID++
	s.active[id] = cancel

	return runCtx, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		cancel()
	}, nil
}

func (s *Service) cached(ctx context.Context, submission execution.Submission) (execution.Outcome, bool) {
	if s.cache == nil {
		return execution.Outcome{}, false
	}
	outcome, ok, err := s.cache.Get(ctx, submission)
	if err != nil {
		s.log.Warn("outcome cache lookup failed", zap.String("submission_id", submission.ID), zap.Error(err))
		return execution.Outcome{}, false
	}
	return outcome, ok
}

// store caches outcomes that would come out the same on a rerun. Timeouts
// and whole-run failures depend on the machine, not only on the source.
func (s *Service) store(ctx context.Context, submission execution.Submission, outcome execution.Outcome) {
	if s.cache == nil || outcome.Error != "" || outcome.HasStatus(execution.StatusTimeout) || ctx.Err() != nil {
		return
	}
	if err := s.cache.Put(ctx, submission, outcome); err != nil {
		s.log.Warn("outcome cache store failed", zap.String("submission_id", submission.ID), zap.Error(err))
	}
}
