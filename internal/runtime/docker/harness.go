package docker

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"coderun/internal/domain/execution"
	"coderun/internal/runtime/jsvm"
)

const (
	harnessFile   = "harness.js"
	requestFile   = "request.json"
	resultPrefix  = "__CODERUN_RESULT__"
	modeCompile   = "compile"
	modeInvoke    = "invoke"
	stderrExcerpt = 512
)

//go:embed harness.js
var harnessSource []byte

const (
	harnessOK           = "ok"
	harnessCompileError = "compile_error"
	harnessRuntimeError = "runtime_error"
	harnessTimeout      = "timeout"
)

type harnessRequest struct {
	Mode         string   `json:"mode"`
	Source       string   `json:"source"`
	ExpectedName string   `json:"expectedName,omitempty"`
	Declared     []string `json:"declared,omitempty"`
	Scanned      []string `json:"scanned,omitempty"`
	Args         []string `json:"args,omitempty"`
	TimeoutMs    int64    `json:"timeoutMs"`
	// Nonce tags the result line so output printed by the submission cannot pass for it.
	Nonce string `json:"nonce"`
}

type harnessResult struct {
	Status     string  `json:"status"`
	Value      *string `json:"value,omitempty"`
	Undefined  bool    `json:"undefined,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"durationMs,omitempty"`
}

// newHarnessRequest resolves candidate entry points on the host, where the
// full parser is available, so the harness only has to run them.
func newHarnessRequest(mode string, submission execution.Submission, timeout time.Duration) harnessRequest {
	declared, _ := jsvm.DeclaredNames(submission.Source)
	return harnessRequest{
		Mode:         mode,
		Source:       submission.Source,
		ExpectedName: submission.ExpectedName,
		Declared:     declared,
		Scanned:      jsvm.ScannedNames(submission.Source),
		TimeoutMs:    timeout.Milliseconds(),
	}
}

func harnessFiles(req harnessRequest) ([]fileSpec, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode harness request: %w", err)
	}
	return []fileSpec{
		{Name: harnessFile, Data: harnessSource},
		{Name: requestFile, Data: payload},
	}, nil
}

// parseHarnessOutput returns the last result line tagged with nonce.
func parseHarnessOutput(stdout, nonce string) (*harnessResult, error) {
	marker := resultPrefix + nonce + ":"
	idx := strings.LastIndex(stdout, marker)
	if idx < 0 {
		return nil, errors.New("harness produced no result")
	}
	line := stdout[idx+len(marker):]
	if end := strings.IndexByte(line, '\n'); end >= 0 {
		line = line[:end]
	}

	var result harnessResult
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		return nil, fmt.Errorf("decode harness result: %w", err)
	}
	return &result, nil
}

// interpret maps a finished container onto an invocation or a typed error.
func interpret(run *containerRun, nonce string) (*execution.Invocation, error) {
	if run.TimedOut {
		return nil, &execution.TimeoutError{}
	}
	if run.OOMKilled {
		return nil, &execution.RuntimeError{Message: "memory limit exceeded"}
	}

	result, err := parseHarnessOutput(run.Stdout, nonce)
	if err != nil {
		return nil, &execution.RuntimeError{Message: crashMessage(run)}
	}

	duration := harnessDuration(result.DurationMs, run.Duration)
	switch result.Status {
	case harnessOK:
		inv := &execution.Invocation{Undefined: result.Undefined, Duration: duration}
		if result.Value != nil {
			inv.Value = []byte(*result.Value)
		} else {
			inv.Undefined = true
		}
		return inv, nil
	case harnessCompileError:
		return nil, &execution.CompileError{Message: execution.CompileMessage, Err: errors.New(result.Error)}
	case harnessRuntimeError:
		return nil, &execution.RuntimeError{Message: result.Error}
	case harnessTimeout:
		return nil, &execution.TimeoutError{}
	default:
		return nil, fmt.Errorf("docker runtime: unknown harness status %q", result.Status)
	}
}

// harnessDuration accepts the harness's own measurement only up to the
// container lifetime the host observed.
func harnessDuration(reportedMs float64, observed time.Duration) time.Duration {
	reported := time.Duration(reportedMs * float64(time.Millisecond))
	switch {
	case reported < 0:
		return 0
	case reported > observed:
		return observed
	default:
		return reported
	}
}

func crashMessage(run *containerRun) string {
	stderr := strings.TrimSpace(run.Stderr)
	if len(stderr) > stderrExcerpt {
		stderr = stderr[len(stderr)-stderrExcerpt:]
	}
	if stderr == "" {
		return fmt.Sprintf("process exited with code %d", run.ExitCode)
	}
	return fmt.Sprintf("process exited with code %d: %s", run.ExitCode, stderr)
}
