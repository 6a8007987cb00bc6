package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/pdxmph/ptto115/pkg/backends"
	"github.com/pdxmph/ptto115/pkg/config"
	"github.com/pdxmph/ptto115/pkg/duplicate"
	"github.com/pdxmph/ptto115/pkg/history"
	"github.com/pdxmph/ptto115/pkg/logging"
	"github.com/pdxmph/ptto115/pkg/metrics"
	"github.com/pdxmph/ptto115/pkg/stability"
	"github.com/pdxmph/ptto115/pkg/upload"
	"github.com/pdxmph/ptto115/pkg/watcher"
)

// loadConfig loads configuration and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if uploadDir != "" {
		abs, err := filepath.Abs(uploadDir)
		if err != nil {
			return nil, fmt.Errorf("resolve upload dir: %w", err)
		}
		cfg.UploadDir = abs
	}
	if logLevel != "" {
		cfg.Log.Level = string(logLevel)
	}
	if jsonLogs {
		cfg.Log.Format = "json"
	}
	return cfg, nil
}

// newUploader builds the configured backend. A bad credential is fatal.
func newUploader(ctx context.Context, cfg *config.Config) (backends.InstantUploader, error) {
	switch cfg.Backend {
	case "115":
		client, err := backends.NewP115Client(cfg.Cookies,
			backends.WithBaseURL(cfg.P115.BaseURL),
			backends.WithTimeout(cfg.P115.Timeout),
			backends.WithUserAgent(cfg.P115.UserAgent),
		)
		if err != nil {
			return nil, err
		}
		return backends.NewP115Uploader(client), nil

	case "s3":
		return backends.NewS3UploaderFromConfig(ctx, backends.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			UploadOnMiss:    cfg.S3.UploadOnMiss,
		})

	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

func runCommand(ctx context.Context, once bool) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	for _, w := range cfg.Warnings {
		logger.Warn().Msg(w)
	}

	return run(ctx, cfg, logger, once)
}

// run wires the components and drives the loop. Cancellation is a clean stop.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, once bool) error {
	// Step 1: remote client
	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.Backend).Msg("failed to initialize upload client")
		return err
	}

	// Step 2: upload directory
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		logger.Error().Err(err).Str("upload_dir", cfg.UploadDir).Msg("failed to create upload directory")
		return err
	}

	// Step 3: optional history ledger
	var recorder history.Recorder
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.History.Path).Msg("failed to open upload history")
			return err
		}
		defer store.Close()
		recorder = store
	}

	// Step 4: metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	// Step 5: the pipeline
	cache := duplicate.NewMemoryStore()
	checker := stability.New(cfg.Stability.Interval, cfg.Stability.Attempts, stability.WithLogger(logger))
	dispatcher := upload.New(uploader, cache, cfg.UploadPID,
		upload.WithHistory(recorder),
		upload.WithMetrics(m),
		upload.WithLogger(logger),
	)
	loop := watcher.New(cfg.UploadDir, checker, dispatcher, cache,
		watcher.WithThrottle(watcher.Throttle{
			AfterFile:  cfg.Throttle.AfterFile,
			AfterRound: cfg.Throttle.AfterRound,
			Idle:       cfg.Throttle.Idle,
		}),
		watcher.WithMetrics(m),
		watcher.WithLogger(logger),
	)

	logger.Info().
		Str("upload_dir", cfg.UploadDir).
		Int64("target_pid", cfg.UploadPID).
		Str("backend", uploader.Name()).
		Dur("interval", cfg.Stability.Interval).
		Int("attempts", cfg.Stability.Attempts).
		Msg("watching for files")

	if once {
		_, err = loop.RunRound(ctx)
	} else {
		err = loop.Run(ctx)
	}

	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("stopped by user")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("upload loop stopped")
		return err
	}
	return nil
}
