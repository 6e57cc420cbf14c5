// Package wire holds the JSON shapes submissions and outcomes travel in,
// shared by every transport.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"coderun/internal/domain/execution"
)

// Submission is the JSON form of execution.Submission.
type Submission struct {
	ID           string     `json:"id,omitempty"`
	Language     string     `json:"language,omitempty"`
	Backend      string     `json:"backend,omitempty"`
	Source       string     `json:"source"`
	ExpectedName string     `json:"expected_name,omitempty"`
	TimeoutMs    int64      `json:"timeout_ms,omitempty"`
	Tests        []TestCase `json:"tests"`
}

// TestCase accepts the legacy "expect" key next to "expected". An absent
// value means undefined; an explicit null is kept.
type TestCase struct {
	Name     string            `json:"name"`
	Input    []json.RawMessage `json:"input"`
	Expected json.RawMessage   `json:"expected,omitempty"`
	Expect   json.RawMessage   `json:"expect,omitempty"`
}

// Outcome is the JSON form of execution.Outcome.
type Outcome struct {
	Results []TestResult `json:"results"`
	Summary Summary      `json:"summary"`
	Error   string       `json:"error,omitempty"`
}

type TestResult struct {
	Name       string            `json:"name"`
	Input      []json.RawMessage `json:"input"`
	Expected   json.RawMessage   `json:"expected,omitempty"`
	Actual     json.RawMessage   `json:"actual,omitempty"`
	Passed     bool              `json:"passed"`
	Status     execution.Status  `json:"status"`
	Error      string            `json:"error,omitempty"`
	DurationMs float64           `json:"duration_ms"`
}

type Summary struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
	Score  int `json:"score"`
}

// ToSubmission converts the envelope into the domain type. A missing tests
// array is kept as nil so suite validation can reject it.
func (s Submission) ToSubmission() (execution.Submission, error) {
	if s.Source == "" {
		return execution.Submission{}, fmt.Errorf("submission missing source")
	}

	var cases []execution.TestCase
	if s.Tests != nil {
		cases = make([]execution.TestCase, len(s.Tests))
		for idx, test := range s.Tests {
			cases[idx] = test.ToTestCase(idx)
		}
	}

	return execution.Submission{
		ID:           s.ID,
		Source:       s.Source,
		ExpectedName: s.ExpectedName,
		Backend:      s.Backend,
		Suite: execution.TestSuite{
			LanguageHint: s.Language,
			TimeoutMs:    s.TimeoutMs,
			Cases:        cases,
		},
	}, nil
}

// ToTestCase names unnamed cases after their position.
func (t TestCase) ToTestCase(idx int) execution.TestCase {
	name := t.Name
	if name == "" {
		name = fmt.Sprintf("Test %d", idx+1)
	}
	expected := t.Expected
	if expected == nil {
		expected = t.Expect
	}
	return execution.TestCase{
		Name:     name,
		Input:    t.Input,
		Expected: expected,
	}
}

// FromSubmission is the inverse of ToSubmission.
func FromSubmission(submission execution.Submission) Submission {
	tests := make([]TestCase, len(submission.Suite.Cases))
	for idx, tc := range submission.Suite.Cases {
		tests[idx] = TestCase{Name: tc.Name, Input: tc.Input, Expected: tc.Expected}
	}
	return Submission{
		ID:           submission.ID,
		Language:     submission.Suite.LanguageHint,
		Backend:      submission.Backend,
		Source:       submission.Source,
		ExpectedName: submission.ExpectedName,
		TimeoutMs:    submission.Suite.TimeoutMs,
		Tests:        tests,
	}
}

// FromOutcome renders an outcome; Results is never null on the wire.
func FromOutcome(outcome execution.Outcome) Outcome {
	results := make([]TestResult, len(outcome.Results))
	for idx, result := range outcome.Results {
		results[idx] = TestResult{
			Name:       result.Name,
			Input:      result.Input,
			Expected:   result.Expected,
			Actual:     result.Actual,
			Passed:     result.Passed,
			Status:     result.Status,
			Error:      result.Error,
			DurationMs: durationMs(result.Duration),
		}
	}
	return Outcome{
		Results: results,
		Summary: Summary{
			Passed: outcome.Summary.Passed,
			Total:  outcome.Summary.Total,
			Score:  outcome.Summary.Score,
		},
		Error: outcome.Error,
	}
}

// ToOutcome is the inverse of FromOutcome. Unknown statuses are rejected.
func (o Outcome) ToOutcome() (execution.Outcome, error) {
	results := make([]execution.TestResult, len(o.Results))
	for idx, result := range o.Results {
		if !result.Status.Valid() {
			return execution.Outcome{}, fmt.Errorf("result %d: unknown status %q", idx, result.Status)
		}
		results[idx] = execution.TestResult{
			Name:     result.Name,
			Input:    result.Input,
			Expected: result.Expected,
			Actual:   result.Actual,
			Passed:   result.Passed,
			Status:   result.Status,
			Error:    result.Error,
			Duration: time.Duration(result.DurationMs * float64(time.Millisecond)),
		}
	}
	return execution.Outcome{
		Results: results,
		Summary: execution.RunSummary{
			Passed: o.Summary.Passed,
			Total:  o.Summary.Total,
			Score:  o.Summary.Score,
		},
		Error: o.Error,
	}, nil
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
