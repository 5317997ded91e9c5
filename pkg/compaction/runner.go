package compaction

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/surrealdb/multiversion"
)

// Compactor is implemented by *multiversion.Manager.
type Compactor interface {
	CompactAll(ctx context.Context, policy multiversion.CompactionPolicy) (multiversion.CompactStats, error)
}

// Runner sweeps every record with a policy at a fixed interval.
type Runner struct {
	c        Compactor
	policy   multiversion.CompactionPolicy
	interval time.Duration
	logger   zerolog.Logger
}

type RunnerOption func(r *Runner)

func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner returns a runner. A nil policy compacts everything that may be
// compacted.
func NewRunner(c Compactor, policy multiversion.CompactionPolicy, interval time.Duration, opts ...RunnerOption) *Runner {
	if policy == nil {
		policy = multiversion.KeepNone{}
	}
	r := &Runner{
		c:        c,
		policy:   policy,
		interval: interval,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs a single sweep.
func (r *Runner) RunOnce(ctx context.Context) (multiversion.CompactStats, error) {
	start := time.Now()
	stats, err := r.c.CompactAll(ctx, r.policy)
	if err != nil {
		return stats, err
	}
	r.logger.Debug().
		Int("records", stats.Records).
		Int("compacted", stats.Compacted).
		Dur("took", time.Since(start)).
		Msg("compaction sweep")
	return stats, nil
}

// Run sweeps immediately and then every interval until ctx is done. A failed
// sweep is logged and retried on the next tick. Run returns nil once ctx is
// done.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("compaction interval must be positive")
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn().Err(err).Msg("compaction sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
