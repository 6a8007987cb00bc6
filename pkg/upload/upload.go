package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/pdxmph/ptto115/pkg/backends"
	"github.com/pdxmph/ptto115/pkg/duplicate"
	"github.com/pdxmph/ptto115/pkg/history"
	"github.com/pdxmph/ptto115/pkg/metrics"
)

// OutcomeKind is what a dispatch did with a file
type OutcomeKind int

const (
	// Completed means the remote created the file and the local copy is gone
	Completed OutcomeKind = iota
	// HashCached means the remote answered with a hash that is kept for the next round
	HashCached
	// NotCompleted means the remote did not complete and gave nothing to keep
	NotCompleted
	// Failed means the attempt errored; file and cache are untouched
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case HashCached:
		return "hash_cached"
	case NotCompleted:
		return "not_completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Observation is a file that passed the stability check
type Observation struct {
	Path string
	Name string
	Size int64
}

// Outcome of a dispatch
type Outcome struct {
	Kind OutcomeKind
	SHA1 string
	Err  error
}

// Dispatcher submits stable files to an instant uploader and keeps the
// hash cache in step with the answers.
type Dispatcher struct {
	uploader  backends.InstantUploader
	cache     duplicate.Store
	targetPID int64
	history   history.Recorder
	metrics   *metrics.Metrics
	remove    func(string) error
	now       func() time.Time
	logger    zerolog.Logger
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithHistory records completed uploads in r
func WithHistory(r history.Recorder) Option {
	return func(d *Dispatcher) { d.history = r }
}

// WithMetrics reports outcomes to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRemove replaces the function that deletes uploaded files
func WithRemove(fn func(string) error) Option {
	return func(d *Dispatcher) { d.remove = fn }
}

// New creates a dispatcher uploading into targetPID. A nil cache gets an
// in-memory one.
func New(uploader backends.InstantUploader, cache duplicate.Store, targetPID int64, opts ...Option) *Dispatcher {
	if cache == nil {
		cache = duplicate.NewMemoryStore()
	}
	d := &Dispatcher{
		uploader:  uploader,
		cache:     cache,
		targetPID: targetPID,
		remove:    os.Remove,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Cache returns the hash cache the dispatcher maintains
func (d *Dispatcher) Cache() duplicate.Store {
	return d.cache
}

// Dispatch runs one instant upload attempt for obs
func (d *Dispatcher) Dispatch(ctx context.Context, obs Observation) Outcome {
	start := d.now()
	out := d.dispatch(ctx, obs)
	d.metrics.ObserveUpload(out.Kind.String(), d.now().Sub(start))
	d.metrics.SetCacheEntries(d.cache.Len())
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, obs Observation) Outcome {
	logger := d.logger.With().
		Str("path", obs.Path).
		Str("size", humanize.Bytes(uint64(obs.Size))).
		Logger()

	// Step 1: reuse a hash from an earlier round when there is one
	cached, ok := d.cache.Get(obs.Path)
	if ok {
		logger.Info().Str("sha1", cached).Msg("reusing cached hash")
	} else {
		logger.Info().Msg("no cached hash, remote side will compute it")
	}

	// Step 2: ask the remote
	res := d.uploader.InstantUpload(ctx, backends.Request{
		Path:      obs.Path,
		Name:      obs.Name,
		Size:      obs.Size,
		SHA1:      cached,
		TargetPID: d.targetPID,
	})

	// Step 3: act on the answer
	switch res.Kind {
	case backends.ResultCompleted:
		return d.completed(ctx, logger, obs, res.SHA1)

	case backends.ResultHashOnly:
		if res.SHA1 == "" {
			logger.Warn().Msg("upload not completed and no hash returned")
			return Outcome{Kind: NotCompleted}
		}
		d.cache.Put(obs.Path, res.SHA1)
		logger.Info().Str("sha1", res.SHA1).Msg("upload not completed, hash cached for next round")
		return Outcome{Kind: HashCached, SHA1: res.SHA1}

	default:
		err := res.Err
		if err == nil {
			err = errors.New("upload failed without an error")
		}
		logger.Error().Err(err).Msg("upload failed")
		return Outcome{Kind: Failed, Err: err}
	}
}

func (d *Dispatcher) completed(ctx context.Context, logger zerolog.Logger, obs Observation, sum string) Outcome {
	if err := d.remove(obs.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("remove uploaded file: %w", err)
		logger.Error().Err(err).Msg("upload completed but local file could not be removed")
		return Outcome{Kind: Failed, SHA1: sum, Err: err}
	}
	d.cache.Delete(obs.Path)

	logger.Info().
		Str("sha1", sum).
		Int64("target_pid", d.targetPID).
		Str("backend", d.uploader.Name()).
		Msg("instant upload succeeded, local file removed")

	if d.history != nil {
		err := d.history.Record(ctx, &history.Upload{
			Path:       obs.Path,
			Filename:   obs.Name,
			SHA1:       sum,
			Size:       obs.Size,
			Backend:    d.uploader.Name(),
			TargetPID:  d.targetPID,
			UploadedAt: d.now(),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to record upload history")
		}
	}

	return Outcome{Kind: Completed, SHA1: sum}
}
