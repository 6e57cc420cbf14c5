package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coderun/internal/app/executor"
	"coderun/internal/domain/execution"
	"coderun/internal/infra/httpapi"
	kafkainfra "coderun/internal/infra/kafka"
	redisinfra "coderun/internal/infra/redis"
	"coderun/internal/logger"
	runtimex "coderun/internal/runtime"
	"coderun/internal/runtime/docker"
	"coderun/internal/runtime/jsvm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coderun: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	if !cfg.kafkaEnabled() && cfg.HTTP.Addr == "" {
		return errors.New("nothing to serve: set KAFKA_BROKERS or HTTP_ADDR")
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := newRegistry(cfg, log)
	if err != nil {
		return err
	}

	opts := []executor.Option{
		executor.WithLogger(log.Named("executor")),
		executor.WithDefaultTimeout(cfg.DefaultTimeout),
	}
	if cfg.Redis.Addr != "" {
		cache, err := redisinfra.New(ctx, cfg.Redis)
		if err != nil {
			_ = registry.Close()
			return fmt.Errorf("init outcome cache: %w", err)
		}
		defer func() {
			if cerr := cache.Close(); cerr != nil {
				log.Warn("failed to close outcome cache", zap.Error(cerr))
			}
		}()
		opts = append(opts, executor.WithCache(cache))
		log.Info("outcome cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	service := executor.NewService(registry, opts...)
	defer func() {
		if cerr := service.Close(); cerr != nil {
			log.Warn("failed to close runner", zap.Error(cerr))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Addr != "" {
		server := httpapi.NewServer(cfg.HTTP, service, log.Named("http"))
		group.Go(func() error {
			log.Info("http api listening", zap.String("addr", cfg.HTTP.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.kafkaEnabled() {
		group.Go(func() error {
			// A bounded consumer takes the whole process down with it.
			defer cancel()
			return consumeSubmissions(gctx, cfg, service, log)
		})
	}

	return group.Wait()
}

func newRegistry(cfg appConfig, log *zap.Logger) (*runtimex.Registry, error) {
	modules := []runtimex.Module{
		jsvm.New(jsvm.Config{Logger: log.Named("jsvm")}),
	}

	dockerCfg := cfg.Docker
	dockerCfg.Logger = log.Named("docker")
	dockerModule, err := docker.New(dockerCfg)
	switch {
	case err == nil:
		modules = append(modules, dockerModule)
	case cfg.Backend == runtimex.KindDocker:
		return nil, fmt.Errorf("init docker backend: %w", err)
	default:
		log.Warn("docker backend unavailable", zap.Error(err))
	}

	registry, err := runtimex.NewRegistry(modules...)
	if err != nil {
		return nil, fmt.Errorf("init runtime registry: %w", err)
	}
	if err := registry.SetDefault(cfg.Backend); err != nil {
		_ = registry.Close()
		return nil, err
	}
	return registry, nil
}

func consumeSubmissions(ctx context.Context, cfg appConfig, service *executor.Service, log *zap.Logger) error {
	consumer, err := kafkainfra.NewConsumer(kafkainfra.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.SubmissionsTopic,
		GroupID: cfg.GroupID,
	})
	if err != nil {
		return fmt.Errorf("init kafka consumer: %w", err)
	}
	defer func() {
		if cerr := consumer.Close(); cerr != nil {
			log.Warn("failed to close kafka consumer", zap.Error(cerr))
		}
	}()

	publisher, err := kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.ResultsTopic,
	})
	if err != nil {
		return fmt.Errorf("init kafka publisher: %w", err)
	}
	defer func() {
		if cerr := publisher.Close(); cerr != nil {
			log.Warn("failed to close kafka publisher", zap.Error(cerr))
		}
	}()

	log.Info("consuming submissions",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.SubmissionsTopic),
		zap.String("results_topic", cfg.ResultsTopic),
		zap.Int("max_parallel", cfg.MaxParallel),
	)

	err = service.ExecuteFromProducer(ctx, consumer, cfg.MaxSubmissions, cfg.MaxParallel,
		func(report execution.RunReport) {
			logReport(log, report)
			if perr := publisher.PublishRunReport(ctx, report); perr != nil {
				log.Error("failed to publish run report",
					zap.String("submission_id", report.Submission.ID),
					zap.Error(perr),
				)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("execute submissions: %w", err)
	}
	return nil
}

func logReport(log *zap.Logger, report execution.RunReport) {
	if report.Outcome.Error != "" {
		log.Warn("submission could not run",
			zap.String("submission_id", report.Submission.ID),
			zap.String("error", report.Outcome.Error),
		)
		return
	}
	log.Info("submission checked",
		zap.String("submission_id", report.Submission.ID),
		zap.Int("passed", report.Outcome.Summary.Passed),
		zap.Int("total", report.Outcome.Summary.Total),
		zap.Int("score", report.Outcome.Summary.Score),
		zap.Duration("duration", report.Duration.Round(time.Millisecond)),
	)
}
