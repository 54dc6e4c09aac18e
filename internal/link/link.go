// Package link streams the master's global commit order into a replica.
package link

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/metrics"
)

// DefaultRetryDelay is the pause after a failed fetch.
const DefaultRetryDelay = time.Second

// Source serves the master's commits by global slot, blocking until a slot is
// filled.
type Source interface {
	Fetch(ctx context.Context, slot int) (commit.Commit, error)
}

// Sink receives commits in global order.
type Sink interface {
	Accept(c commit.Commit)
}

// Link pulls slot after slot from a Source into a Sink. Accept is only ever
// called from Run's goroutine, one commit at a time.
type Link struct {
	source     Source
	sink       Sink
	clock      clockwork.Clock
	retryDelay time.Duration
	logger     *zap.Logger

	slot int
}

// Config holds configuration for creating a link.
type Config struct {
	Source     Source
	Sink       Sink
	Clock      clockwork.Clock
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// New creates a link starting at slot 0.
func New(cfg Config) *Link {
	l := &Link{
		source:     cfg.Source,
		sink:       cfg.Sink,
		clock:      cfg.Clock,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}

	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}

	if l.retryDelay <= 0 {
		l.retryDelay = DefaultRetryDelay
	}

	if l.logger == nil {
		l.logger = zap.NewNop()
	}

	return l
}

// Run pulls commits until ctx is cancelled. Fetch failures are logged and
// retried after the retry delay, forever.
func (l *Link) Run(ctx context.Context) error {
	for {
		metrics.LinkSlot.Set(float64(l.slot))

		c, err := l.source.Fetch(ctx, l.slot)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			metrics.LinkRetries.Inc()
			l.logger.Warn("fetch from master failed",
				zap.Int("slot", l.slot),
				zap.Duration("retry_in", l.retryDelay),
				zap.Error(err),
			)

			select {
			case <-l.clock.After(l.retryDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		l.sink.Accept(c)
		l.slot++
	}
}
