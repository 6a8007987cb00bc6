// Package watcher polls the upload directory and drives each file through
// the stability check and the instant upload dispatcher.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pdxmph/ptto115/pkg/duplicate"
	"github.com/pdxmph/ptto115/pkg/metrics"
	"github.com/pdxmph/ptto115/pkg/stability"
	"github.com/pdxmph/ptto115/pkg/upload"
)

// Checker decides whether a file stopped growing
type Checker interface {
	Check(ctx context.Context, path string) (stability.Result, error)
}

// Dispatcher submits a stable file
type Dispatcher interface {
	Dispatch(ctx context.Context, obs upload.Observation) upload.Outcome
}

// Throttle holds the optional pauses between files and rounds. Zero
// disables a pause. Idle is waited after a round that found no files.
type Throttle struct {
	AfterFile  time.Duration
	AfterRound time.Duration
	Idle       time.Duration
}

// RoundStats summarizes one pass over the directory
type RoundStats struct {
	ID           string
	Discovered   int
	Stable       int
	Unstable     int
	Vanished     int
	CheckErrors  int
	Completed    int
	HashCached   int
	NotCompleted int
	Failed       int
	Purged       int
}

// Loop is the polling uploader
type Loop struct {
	root       string
	checker    Checker
	dispatcher Dispatcher
	cache      duplicate.Store
	throttle   Throttle
	sleep      stability.SleepFunc
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option customizes a Loop
type Option func(*Loop)

// WithThrottle sets the pauses of the loop
func WithThrottle(t Throttle) Option {
	return func(l *Loop) { l.throttle = t }
}

// WithSleep replaces the wait used by throttles
func WithSleep(fn stability.SleepFunc) Option {
	return func(l *Loop) { l.sleep = fn }
}

// WithMetrics reports rounds and stability results to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a loop over root. cache must be the store the dispatcher
// updates so vanished files can be purged from it.
func New(root string, checker Checker, dispatcher Dispatcher, cache duplicate.Store, opts ...Option) *Loop {
	l := &Loop{
		root:       root,
		checker:    checker,
		dispatcher: dispatcher,
		cache:      cache,
		sleep:      stability.Sleep,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run processes rounds until ctx is cancelled or the root cannot be walked
func (l *Loop) Run(ctx context.Context) error {
	for {
		stats, err := l.RunRound(ctx)
		if err != nil {
			return err
		}

		wait := l.throttle.AfterRound
		if stats.Discovered == 0 && l.throttle.Idle > wait {
			wait = l.throttle.Idle
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunRound walks the directory once. Per-file problems are logged and
// counted; only cancellation and a failure to walk the root are returned.
func (l *Loop) RunRound(ctx context.Context) (RoundStats, error) {
	stats := RoundStats{ID: uuid.NewString()}
	logger := l.logger.With().Str("round_id", stats.ID).Logger()

	// Step 1: find candidates
	files, err := l.discover(ctx, logger)
	if err != nil {
		return stats, err
	}
	stats.Discovered = len(files)
	logger.Debug().Int("files", len(files)).Str("root", l.root).Msg("round started")

	// Step 2: drop cache entries of files that are gone
	stats.Purged += l.purgeOrphans(files, logger)

	// Step 3: process each file in order
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := l.processFile(ctx, logger, path, &stats); err != nil {
			return stats, err
		}

		if err := l.sleep(ctx, l.throttle.AfterFile); err != nil {
			return stats, err
		}
	}

	l.metrics.ObserveRound(stats.Discovered)
	l.metrics.SetCacheEntries(l.cache.Len())

	if stats.Discovered > 0 {
		logger.Info().
			Int("discovered", stats.Discovered).
			Int("completed", stats.Completed).
			Int("hash_cached", stats.HashCached).
			Int("unstable", stats.Unstable).
			Int("vanished", stats.Vanished).
			Int("failed", stats.Failed).
			Msg("round finished")
	}
	return stats, nil
}

func (l *Loop) processFile(ctx context.Context, logger zerolog.Logger, path string, stats *RoundStats) error {
	fileLog := logger.With().Str("path", path).Logger()

	res, err := l.checker.Check(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		stats.CheckErrors++
		l.metrics.ObserveStability("error")
		fileLog.Error().Err(err).Msg("stability check failed")
		return nil
	}
	l.metrics.ObserveStability(res.Status.String())

	switch res.Status {
	case stability.Vanished:
		stats.Vanished++
		if _, ok := l.cache.Get(path); ok {
			l.cache.Delete(path)
			stats.Purged++
		}
		fileLog.Info().Msg("file vanished, cache entry purged")
		return nil

	case stability.Unstable:
		stats.Unstable++
		return nil
	}

	stats.Stable++
	out := l.dispatcher.Dispatch(ctx, upload.Observation{
		Path: path,
		Name: filepath.Base(path),
		Size: res.Size,
	})

	switch out.Kind {
	case upload.Completed:
		stats.Completed++
	case upload.HashCached:
		stats.HashCached++
	case upload.NotCompleted:
		stats.NotCompleted++
	default:
		stats.Failed++
	}
	return nil
}

// discover lists regular files under the root in lexical order
func (l *Loop) discover(ctx context.Context, logger zerolog.Logger) ([]string, error) {
	var files []string

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == l.root {
				return err
			}
			logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && ctx.Err() == nil {
			logger.Warn().Str("root", l.root).Msg("upload directory does not exist")
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}
	return files, nil
}

// purgeOrphans deletes cache entries whose files were not found this round
// and no longer exist
func (l *Loop) purgeOrphans(files []string, logger zerolog.Logger) int {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f] = struct{}{}
	}

	purged := 0
	for _, path := range l.cache.Paths() {
		if _, ok := seen[path]; ok {
			continue
		}
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			l.cache.Delete(path)
			purged++
			logger.Info().Str("path", path).Msg("file vanished, cache entry purged")
		}
	}
	return purged
}
