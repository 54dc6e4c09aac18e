// Package sequencer is the master's ordering point. It assigns every accepted
// commit, across all documents, a slot in one global log that replicas pull
// in order.
package sequencer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/metrics"
)

// ErrInvalidSlot is returned for a negative slot.
var ErrInvalidSlot = errors.New("slot must not be negative")

// Sequencer is an in-memory global log of commits. It is safe for concurrent
// use. Like the replica logs it is never trimmed.
type Sequencer struct {
	mu      sync.Mutex
	slots   []commit.Commit
	heads   map[string]int
	waiters map[int][]chan commit.Commit

	logger *zap.Logger
}

// New creates an empty sequencer.
func New(logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sequencer{
		heads:   make(map[string]int),
		waiters: make(map[int][]chan commit.Commit),
		logger:  logger,
	}
}

// Submit orders a raw commit. Malformed commits are dropped and reported with
// an error wrapping commit.ErrMalformed; the caller should acknowledge them
// anyway so the client resynchronizes instead of retrying.
//
// Commits are not deduplicated by ID.
func (s *Sequencer) Submit(_ context.Context, raw []byte) error {
	c, err := commit.Decode(raw)
	if err != nil {
		return s.drop(c, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := c.Check(s.heads[c.DocID]); err != nil {
		return s.drop(c, err)
	}

	slot := len(s.slots)
	s.slots = append(s.slots, c)
	s.heads[c.DocID]++

	for _, ch := range s.waiters[slot] {
		ch <- c
	}

	delete(s.waiters, slot)

	metrics.SubmissionsOrdered.Inc()
	s.logger.Debug("commit ordered",
		zap.Int("slot", slot),
		zap.String("doc", c.DocID),
		zap.String("commit", c.ID),
	)

	return nil
}

func (s *Sequencer) drop(c commit.Commit, err error) error {
	metrics.SubmissionsDropped.Inc()
	s.logger.Warn("dropping commit",
		zap.String("doc", c.DocID),
		zap.String("commit", c.ID),
		zap.Error(err),
	)

	return err
}

// Fetch returns the commit in slot n, blocking until it is ordered.
func (s *Sequencer) Fetch(ctx context.Context, slot int) (commit.Commit, error) {
	if slot < 0 {
		return commit.Commit{}, ErrInvalidSlot
	}

	s.mu.Lock()

	if slot < len(s.slots) {
		c := s.slots[slot]
		s.mu.Unlock()

		return c, nil
	}

	ch := make(chan commit.Commit, 1)
	s.waiters[slot] = append(s.waiters[slot], ch)
	s.mu.Unlock()

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		s.forget(slot, ch)

		return commit.Commit{}, ctx.Err()
	}
}

func (s *Sequencer) forget(slot int, ch chan commit.Commit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chans := s.waiters[slot]
	for i, w := range chans {
		if w == ch {
			s.waiters[slot] = append(chans[:i], chans[i+1:]...)
			if len(s.waiters[slot]) == 0 {
				delete(s.waiters, slot)
			}

			return
		}
	}
}

// Len returns the number of ordered commits.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.slots)
}
