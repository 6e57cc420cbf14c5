package ports

import (
	"context"

	"coderun/internal/domain/execution"
)

// RunReportPublisher publishes run reports to an external system.
type RunReportPublisher interface {
	PublishRunReport(ctx context.Context, report execution.RunReport) error
	Close() error
}
