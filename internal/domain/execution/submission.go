package execution

import "time"

// Submission is one piece of candidate source code together with the suite
// it is checked against.
type Submission struct {
	ID string
	// Source is the untrusted candidate code.
	Source string
	// ExpectedName optionally names the entry point to extract from declarations.
	ExpectedName string
	// Backend optionally names the execution backend; empty selects the default.
	Backend string
	Suite   TestSuite
}

// Outcome is the structured answer to a run request.
//
// Error is only set when the run could not start at all (malformed suite,
// unavailable backend); in that case Results is empty and Summary is zero.
type Outcome struct {
	Results []TestResult
	Summary RunSummary
	Error   string
}

// FailedOutcome builds the outcome of a run that could not be initialized.
func FailedOutcome(err error) Outcome {
	return Outcome{
		Results: []TestResult{},
		Error:   err.Error(),
	}
}

// HasStatus reports whether any result carries the given status.
func (o Outcome) HasStatus(status Status) bool {
	for _, result := range o.Results {
		if result.Status == status {
			return true
		}
	}
	return false
}

// RunReport captures the outcome of executing a Submission.
type RunReport struct {
	Submission Submission
	Outcome    Outcome
	// Duration covers compilation and every invocation of the run.
	Duration time.Duration
}

// Invocation is what a backend observed while calling the compiled entry point once.
type Invocation struct {
	// Value is the JSON.stringify rendering of the returned value.
	// It is nil when Undefined is set.
	Value []byte
	// Undefined is set when the call returned undefined or a value JSON cannot represent.
	Undefined bool
	Duration  time.Duration
}
