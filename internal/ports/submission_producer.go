package ports

import (
	"context"

	"coderun/internal/domain/execution"
)

// SubmissionProducer provides submissions to be checked by the executor service.
//
// NextSubmission returns io.EOF once the producer has nothing more to offer.
type SubmissionProducer interface {
	NextSubmission(ctx context.Context) (execution.Submission, error)
}
