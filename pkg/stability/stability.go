// Package stability decides whether a file has stopped growing by sampling
// its size at a fixed interval.
package stability

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Status is the verdict of one stability check
type Status int

const (
	// Stable means two consecutive samples had the same size
	Stable Status = iota
	// Unstable means the attempt budget ran out while the size kept changing
	Unstable
	// Vanished means the file disappeared during the check
	Vanished
)

func (s Status) String() string {
	switch s {
	case Stable:
		return "stable"
	case Unstable:
		return "unstable"
	case Vanished:
		return "vanished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result of a check. Size is the last size observed.
type Result struct {
	Status   Status
	Size     int64
	Attempts int
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// SizeFunc reports the current size of path
type SizeFunc func(path string) (int64, error)

// Checker samples file sizes. The zero value is not usable; use New.
type Checker struct {
	Interval time.Duration
	Attempts int

	sleep  SleepFunc
	size   SizeFunc
	logger zerolog.Logger
}

// Option customizes a Checker
type Option func(*Checker)

// WithSleep replaces the wait between samples
func WithSleep(fn SleepFunc) Option {
	return func(c *Checker) { c.sleep = fn }
}

// WithSizeFunc replaces the filesystem stat
func WithSizeFunc(fn SizeFunc) Option {
	return func(c *Checker) { c.size = fn }
}

// WithLogger sets the logger used for per-attempt warnings
func WithLogger(l zerolog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// New creates a Checker with the given interval and attempt budget
func New(interval time.Duration, attempts int, opts ...Option) *Checker {
	if attempts < 1 {
		attempts = 1
	}
	c := &Checker{
		Interval: interval,
		Attempts: attempts,
		sleep:    Sleep,
		size:     statSize,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check samples path until two consecutive sizes match or the budget is
// spent. A file that disappears yields Vanished rather than an error; other
// stat failures and context cancellation are returned as errors.
func (c *Checker) Check(ctx context.Context, path string) (Result, error) {
	prev, err := c.size(path)
	if err != nil {
		return c.sampleFailed(path, 0, err)
	}

	for attempt := 1; attempt <= c.Attempts; attempt++ {
		if err := c.sleep(ctx, c.Interval); err != nil {
			return Result{}, err
		}

		cur, err := c.size(path)
		if err != nil {
			return c.sampleFailed(path, attempt, err)
		}

		if cur == prev {
			c.logger.Debug().Str("path", path).Int64("size", cur).Int("attempt", attempt).Msg("file size stable")
			return Result{Status: Stable, Size: cur, Attempts: attempt}, nil
		}

		c.logger.Warn().
			Str("path", path).
			Int64("previous", prev).
			Int64("current", cur).
			Int("attempt", attempt).
			Msg("file size not stable")
		prev = cur
	}

	c.logger.Error().Str("path", path).Int("attempts", c.Attempts).Msg("file size never settled, skipping")
	return Result{Status: Unstable, Size: prev, Attempts: c.Attempts}, nil
}

func (c *Checker) sampleFailed(path string, attempt int, err error) (Result, error) {
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Info().Str("path", path).Msg("file vanished during stability check")
		return Result{Status: Vanished, Attempts: attempt}, nil
	}
	return Result{}, fmt.Errorf("stat %s: %w", path, err)
}

// Sleep waits for d, returning early with ctx.Err() when ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
