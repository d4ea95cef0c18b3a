package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/postboard/pkg/logger"
)

const defaultSchedule = "@every 10m"

// SessionPruner drops user-session index entries whose session record has expired.
type SessionPruner interface {
	PruneIndexes(ctx context.Context) (int, error)
}

// ExpiredPurger deletes fast-store entries whose TTL has elapsed. Only the database-backed
// store needs this; Redis expires keys itself.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner runs background housekeeping for the session and cache stores.
type Cleaner struct {
	sessions SessionPruner
	purger   ExpiredPurger
	cron     *cron.Cron
	schedule string
	log      *zap.Logger
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron specification shared by every cleanup job.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the corresponding job.
func NewCleaner(sessions SessionPruner, purger ExpiredPurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions: sessions,
		purger:   purger,
		schedule: defaultSchedule,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the cleanup job with the cron scheduler and launches it when there is work to do.
func (c *Cleaner) Start() error {
	if c.sessions == nil && c.purger == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("maintenance run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured cleanup routine. A failing routine does not stop the others.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		pruned, err := c.sessions.PruneIndexes(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune session indexes: %w", err))
		} else if pruned > 0 {
			c.log.Info("pruned stale session index entries", zap.Int("count", pruned))
		}
	}

	if c.purger != nil {
		purged, err := c.purger.PurgeExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge expired entries: %w", err))
		} else if purged > 0 {
			c.log.Info("purged expired store entries", zap.Int64("count", purged))
		}
	}

	return errs
}
