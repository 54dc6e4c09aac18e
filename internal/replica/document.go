package replica

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/metrics"
	"github.com/serroba/online-pad/internal/ot"
)

// Document is one document's state on a replica: its commit log, the text
// obtained by applying the log in order, and long-poll requests waiting for
// revisions that do not exist yet.
//
// Nothing is ever evicted. The log, the text and the waiter map live as long
// as the replica does.
type Document struct {
	id     string
	logger *zap.Logger

	mu      sync.Mutex
	log     *commit.Log
	text    string
	waiters map[int][]chan commit.Commit
}

func newDocument(id string, logger *zap.Logger) *Document {
	return &Document{
		id:      id,
		logger:  logger,
		log:     commit.NewLog(),
		waiters: make(map[int][]chan commit.Commit),
	}
}

// ID returns the document ID.
func (d *Document) ID() string {
	return d.id
}

// State returns the materialized text and the revision it reflects.
func (d *Document) State() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.text, d.log.Head()
}

// Get returns the commit at revision rev, blocking until it is appended.
// Each call is answered at most once; cancelling ctx withdraws the request.
func (d *Document) Get(ctx context.Context, rev int) (commit.Commit, error) {
	// Revision 0 is the empty document, not a commit.
	if rev < 1 {
		return commit.Commit{}, ErrInvalidRevision
	}

	d.mu.Lock()

	if c, ok := d.log.At(rev); ok {
		d.mu.Unlock()

		return c, nil
	}

	ch := make(chan commit.Commit, 1)
	d.waiters[rev] = append(d.waiters[rev], ch)
	d.mu.Unlock()

	metrics.Waiters.Inc()

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		d.forget(rev, ch)

		return commit.Commit{}, ctx.Err()
	}
}

// forget removes a waiter that gave up. If the commit arrived in the meantime
// the waiter was already released and there is nothing to remove.
func (d *Document) forget(rev int, ch chan commit.Commit) {
	d.mu.Lock()
	defer d.mu.Unlock()

	chans := d.waiters[rev]
	for i, w := range chans {
		if w == ch {
			d.waiters[rev] = append(chans[:i], chans[i+1:]...)
			if len(d.waiters[rev]) == 0 {
				delete(d.waiters, rev)
			}

			metrics.Waiters.Dec()

			return
		}
	}
}

// accept folds c into the log after the current head and releases everyone
// waiting for the new revision. It returns the commit as logged.
//
// If the rebased diff does not fit the text, the commit is logged with an
// empty diff. Every replica rebases the same commits in the same order, so
// they all make the same call and stay identical.
func (d *Document) accept(c commit.Commit) commit.Commit {
	d.mu.Lock()
	defer d.mu.Unlock()

	c = d.log.Rebase(c)

	text, err := ot.Apply(d.text, c.Diff)
	if err != nil {
		d.logger.Error("commit does not apply, logging it empty",
			zap.String("doc", d.id),
			zap.String("commit", c.ID),
			zap.Int("parent", c.Parent),
			zap.Error(err),
		)
		metrics.CommitsBlanked.Inc()

		c.Diff = ot.Diff{}
		text = d.text
	} else {
		metrics.CommitsApplied.Inc()
	}

	rev := d.log.Append(c)
	d.text = text

	for _, ch := range d.waiters[rev] {
		ch <- c

		metrics.Waiters.Dec()
	}

	delete(d.waiters, rev)

	return c
}
