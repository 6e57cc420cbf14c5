package ports

import (
	"context"

	"coderun/internal/domain/execution"
)

// OutcomeCache stores outcomes of deterministic runs keyed by submission content.
//
// Get reports ok=false on a miss. Implementations must treat cache failures
// as misses from the caller's point of view and return them only for logging.
type OutcomeCache interface {
	Get(ctx context.Context, submission execution.Submission) (execution.Outcome, bool, error)
	Put(ctx context.Context, submission execution.Submission, outcome execution.Outcome) error
}
