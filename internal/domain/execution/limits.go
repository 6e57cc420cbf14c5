package execution

import "time"

// DefaultTimeout applies when a suite does not specify its own per-case budget.
const DefaultTimeout = 2000 * time.Millisecond

// MaxTimeout is the largest per-case budget a suite may ask for.
const MaxTimeout = 5 * time.Minute

// RunLimits describes optional resource boundaries for a single invocation.
//
// A zero value RunLimits imposes no additional restrictions.
type RunLimits struct {
	// TimeLimit caps the wall-clock duration of one invocation. Zero means no limit.
	TimeLimit time.Duration
	// MemoryLimitBytes caps the sandbox memory usage in bytes. Zero means no limit.
	// Only container backends enforce it.
	MemoryLimitBytes int64
}
