package producer

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"coderun/internal/domain/execution"
	"coderun/internal/ports"
)

// Service implements ports.SubmissionProducer over an in-memory queue.
type Service struct {
	mu          sync.Mutex
	submissions []execution.Submission
	index       int
}

var _ ports.SubmissionProducer = (*Service)(nil)

// NewService builds a producer that hands out the given submissions in order.
func NewService(submissions ...execution.Submission) *Service {
	s := &Service{}
	for _, submission := range submissions {
		s.AddSubmission(submission)
	}
	return s
}

// NextSubmission returns the next queued submission, or io.EOF once the queue is drained.
func (s *Service) NextSubmission(ctx context.Context) (execution.Submission, error) {
	select {
	case <-ctx.Done():
		return execution.Submission{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= len(s.submissions) {
		return execution.Submission{}, io.EOF
	}

	submission := s.submissions[s.index]
	s.index++

	return submission, nil
}

// AddSubmission queues a submission, assigning a random ID when it has none.
func (s *Service) AddSubmission(submission execution.Submission) {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.submissions = append(s.submissions, submission)
}
