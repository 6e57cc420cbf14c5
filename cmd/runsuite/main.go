// Command runsuite checks a JavaScript source against one or more suite files
// and prints every outcome as JSON.
//
//	runsuite [-source solution.js] [-backend jsvm|docker] suite.yaml...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coderun/internal/app/executor"
	"coderun/internal/app/producer"
	"coderun/internal/domain/execution"
	"coderun/internal/infra/suitefile"
	"coderun/internal/infra/wire"
	"coderun/internal/logger"
	runtimex "coderun/internal/runtime"
	"coderun/internal/runtime/docker"
	"coderun/internal/runtime/jsvm"
)

const (
	exitPassed = 0
	exitFailed = 1
	exitUsage  = 2
)

type options struct {
	sourcePath   string
	expectedName string
	backend      string
	timeout      time.Duration
	parallel     int
	logLevel     string
	pretty       bool
	suites       []string
}

type report struct {
	ID string `json:"id"`
	wire.Outcome
	DurationMs int64 `json:"duration_ms"`
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(exitPassed)
		}
		fmt.Fprintf(os.Stderr, "runsuite: %v\n", err)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code, err := run(ctx, opts, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "runsuite: %v\n", err)
		os.Exit(exitUsage)
	}
	os.Exit(code)
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("runsuite", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.sourcePath, "source", "", "file holding the candidate source; overrides the suite's source")
	fs.StringVar(&opts.expectedName, "name", "", "entry point name to extract from declarations")
	fs.StringVar(&opts.backend, "backend", string(runtimex.KindJSVM), "execution backend: jsvm or docker")
	fs.DurationVar(&opts.timeout, "timeout", 0, "per-case budget for suites that do not set timeout_ms")
	fs.IntVar(&opts.parallel, "parallel", 1, "number of suites checked concurrently")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	fs.BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.suites = fs.Args()
	if len(opts.suites) == 0 {
		return options{}, errors.New("at least one suite file is required")
	}
	switch runtimex.Kind(opts.backend) {
	case runtimex.KindJSVM, runtimex.KindDocker:
	default:
		return options{}, fmt.Errorf("unknown backend %q", opts.backend)
	}
	return opts, nil
}

func loadSubmissions(opts options) ([]execution.Submission, error) {
	var source string
	if opts.sourcePath != "" {
		data, err := os.ReadFile(opts.sourcePath)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		source = string(data)
	}

	submissions := make([]execution.Submission, 0, len(opts.suites))
	for _, path := range opts.suites {
		submission, err := suitefile.Load(path)
		if err != nil {
			return nil, err
		}
		submission.ID = path
		if source != "" {
			submission.Source = source
		}
		if submission.Source == "" {
			return nil, fmt.Errorf("%s: no source given; set source in the suite or pass -source", path)
		}
		if opts.expectedName != "" {
			submission.ExpectedName = opts.expectedName
		}
		submissions = append(submissions, submission)
	}
	return submissions, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) (int, error) {
	submissions, err := loadSubmissions(opts)
	if err != nil {
		return exitUsage, err
	}

	log, err := logger.NewWithWriter(logger.Config{Level: opts.logLevel, Format: "console"}, os.Stderr)
	if err != nil {
		return exitUsage, fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	registry, err := newRegistry(runtimex.Kind(opts.backend), log)
	if err != nil {
		return exitUsage, err
	}

	service := executor.NewService(registry,
		executor.WithLogger(log),
		executor.WithDefaultTimeout(opts.timeout),
	)
	defer func() {
		if cerr := service.Close(); cerr != nil {
			log.Warn("failed to close runner", zap.Error(cerr))
		}
	}()

	var mu sync.Mutex
	reports := make(map[string]execution.RunReport, len(submissions))
	err = service.ExecuteFromProducer(ctx, producer.NewService(submissions...), 0, opts.parallel,
		func(r execution.RunReport) {
			mu.Lock()
			reports[r.Submission.ID] = r
			mu.Unlock()
		},
	)
	if err != nil {
		return exitUsage, err
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}

	code := exitPassed
	for _, submission := range submissions {
		r, ok := reports[submission.ID]
		if !ok {
			// Interrupted before this suite started.
			code = exitFailed
			continue
		}
		if err := enc.Encode(report{
			ID:         submission.ID,
			Outcome:    wire.FromOutcome(r.Outcome),
			DurationMs: r.Duration.Milliseconds(),
		}); err != nil {
			return exitUsage, fmt.Errorf("write outcome: %w", err)
		}
		if r.Outcome.Error != "" || r.Outcome.Summary.Passed < r.Outcome.Summary.Total {
			code = exitFailed
		}
	}
	return code, nil
}

func newRegistry(backend runtimex.Kind, log *zap.Logger) (*runtimex.Registry, error) {
	var module runtimex.Module
	switch backend {
	case runtimex.KindDocker:
		m, err := docker.New(docker.Config{Logger: log.Named("docker")})
		if err != nil {
			return nil, err
		}
		module = m
	default:
		module = jsvm.New(jsvm.Config{Logger: log.Named("jsvm")})
	}
	return runtimex.NewRegistry(module)
}
