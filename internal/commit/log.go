package commit

import (
	"sync"

	"github.com/serroba/online-pad/internal/ot"
)

// Log is the ordered history of one document. Slot 0 is the genesis sentinel,
// so the revision of a commit is its slot index and Head is the latest one.
//
// Entries are never pruned: a long-lived document grows without bound.
type Log struct {
	mu      sync.RWMutex
	commits []Commit
}

// NewLog creates a log that holds only the genesis sentinel.
func NewLog() *Log {
	return &Log{
		commits: make([]Commit, 1),
	}
}

// Head returns the latest revision.
func (l *Log) Head() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.commits) - 1
}

// At returns the commit at revision rev, if it exists. The genesis sentinel is
// never returned.
func (l *Log) At(rev int) (Commit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if rev < 1 || rev >= len(l.commits) {
		return Commit{}, false
	}

	return l.commits[rev], true
}

// Rebase returns c transformed to apply on top of the current head: its diff
// is rebased over every logged commit after the parent it claims, oldest
// first, and its parent is set to head. The log is not changed.
func (l *Log) Rebase(c Commit) Commit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	diff := c.Diff

	for rev := max(c.Parent+1, 1); rev < len(l.commits); rev++ {
		diff = ot.Rebase(l.commits[rev].Diff, diff)
	}

	c.Diff = diff
	c.Parent = len(l.commits) - 1

	return c
}

// Append adds c after head and returns its revision. c must already be
// rebased onto head.
func (l *Log) Append(c Commit) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.commits = append(l.commits, c)

	return len(l.commits) - 1
}
