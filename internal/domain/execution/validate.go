package execution

import (
	"encoding/json"
	"fmt"
)

// Validate checks the structural invariants a suite must satisfy before it can run.
func (s TestSuite) Validate() error {
	if s.Cases == nil {
		return &MalformedSuiteError{Reason: "missing cases"}
	}
	if s.TimeoutMs < 0 {
		return &MalformedSuiteError{Reason: fmt.Sprintf("timeout must be positive, got %dms", s.TimeoutMs)}
	}
	if s.TimeoutMs > MaxTimeout.Milliseconds() {
		return &MalformedSuiteError{Reason: fmt.Sprintf("timeout %dms exceeds the %dms maximum", s.TimeoutMs, MaxTimeout.Milliseconds())}
	}
	for idx, tc := range s.Cases {
		if tc.Input == nil {
			return &MalformedSuiteError{Reason: fmt.Sprintf("case %d (%q): input must be a sequence", idx, tc.Name)}
		}
		for argIdx, arg := range tc.Input {
			if !json.Valid(arg) {
				return &MalformedSuiteError{Reason: fmt.Sprintf("case %d (%q): argument %d is not valid JSON", idx, tc.Name, argIdx)}
			}
		}
		if tc.Expected != nil && !json.Valid(tc.Expected) {
			return &MalformedSuiteError{Reason: fmt.Sprintf("case %d (%q): expected value is not valid JSON", idx, tc.Name)}
		}
	}
	return nil
}
