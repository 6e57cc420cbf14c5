package execution

import (
	"encoding/json"
	"time"
)

// TestCase is one input/output fixture.
//
// Input holds the JSON encoding of each positional argument. A nil Expected
// stands for the JavaScript value undefined; JSON null is a defined value.
type TestCase struct {
	Name     string
	Input    []json.RawMessage
	Expected json.RawMessage
}

// TestSuite bundles the cases and execution settings of one run.
type TestSuite struct {
	// LanguageHint is carried through to results and never selects a backend.
	LanguageHint string
	// TimeoutMs bounds every single invocation. Zero selects DefaultTimeout.
	TimeoutMs int64
	Cases     []TestCase
}

// Timeout returns the per-case budget, applying DefaultTimeout when unset
// and capping it at MaxTimeout.
func (s TestSuite) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	if s.TimeoutMs > MaxTimeout.Milliseconds() {
		return MaxTimeout
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// TimeoutSentinel is reported as the actual value of a case that ran out of time.
var TimeoutSentinel = json.RawMessage(`"TIMEOUT"`)

// TestResult captures the verdict for a single TestCase.
type TestResult struct {
	Name     string
	Input    []json.RawMessage
	Expected json.RawMessage
	// Actual is the canonical encoding of the returned value. Nil means no value.
	Actual   json.RawMessage
	Passed   bool
	Status   Status
	Error    string
	Duration time.Duration
}
