package execution

import (
	"errors"
	"fmt"
)

// Sentinel errors for error classification.
var (
	// ErrCompile indicates that the source could not be turned into a callable.
	ErrCompile = errors.New("compile error")

	// ErrRuntime indicates that the entry point threw during one invocation.
	ErrRuntime = errors.New("runtime error")

	// ErrTimeout indicates that an invocation exceeded its budget or was cancelled.
	ErrTimeout = errors.New("timeout")

	// ErrMalformedSuite indicates that the suite itself cannot be executed.
	ErrMalformedSuite = errors.New("malformed suite")
)

// CompileMessage is reported on every case of a run whose source does not compile.
const CompileMessage = "Could not compile source into a callable entry point"

// CompileError reports that no compile strategy produced a callable.
type CompileError struct {
	Message string
	// Err is the failure of the last strategy attempted, if any.
	Err error
}

func (e *CompileError) Error() string {
	if e.Message == "" {
		return CompileMessage
	}
	return e.Message
}

func (e *CompileError) Unwrap() error { return e.Err }

func (e *CompileError) Is(target error) bool { return target == ErrCompile }

// RuntimeError carries the message of an exception thrown by the entry point.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string { return e.Message }

func (e *RuntimeError) Is(target error) bool { return target == ErrRuntime }

// TimeoutError reports an invocation that did not finish in time.
type TimeoutError struct {
	Message string
	// Cancelled is set when the run was abandoned rather than out of budget.
	Cancelled bool
}

func (e *TimeoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cancelled {
		return "run cancelled"
	}
	return "Test execution timed out"
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// MalformedSuiteError reports a structural problem with a suite.
type MalformedSuiteError struct {
	Reason string
}

func (e *MalformedSuiteError) Error() string {
	return fmt.Sprintf("malformed suite: %s", e.Reason)
}

func (e *MalformedSuiteError) Is(target error) bool { return target == ErrMalformedSuite }
