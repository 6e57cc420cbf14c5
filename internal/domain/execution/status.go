package execution

// Status classifies the outcome of a single test case.
type Status string

const (
	StatusPass         Status = "PASS"
	StatusFail         Status = "FAIL"
	StatusTimeout      Status = "TIMEOUT"
	StatusCompileError Status = "COMPILE_ERROR"
	StatusRuntimeError Status = "RUNTIME_ERROR"
	StatusNoOutput     Status = "NO_OUTPUT"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusTimeout, StatusCompileError, StatusRuntimeError, StatusNoOutput:
		return true
	default:
		return false
	}
}
