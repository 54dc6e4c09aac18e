// Package replica holds the server-side state of every document: its ordered
// commit log, its current text and the long-polls waiting on it.
package replica

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/metrics"
)

// Common errors.
var (
	ErrInvalidRevision = errors.New("revision must be at least 1")
	ErrNoUpstream      = errors.New("replica has no upstream")
)

// Upstream is where writes go. Only the master orders commits; every replica
// hands raw commits to it untouched.
type Upstream interface {
	Submit(ctx context.Context, raw []byte) error
}

// Replica manages the documents served by one server.
type Replica struct {
	mu   sync.RWMutex
	docs map[string]*Document

	upstream Upstream
	logger   *zap.Logger
}

// Config holds configuration for creating a replica.
type Config struct {
	Upstream Upstream
	Logger   *zap.Logger
}

// New creates a replica with no documents.
func New(cfg Config) *Replica {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Replica{
		docs:     make(map[string]*Document),
		upstream: cfg.Upstream,
		logger:   logger,
	}
}

// Document returns the document with the given ID, creating it empty at
// revision 0 on first use.
func (r *Replica) Document(docID string) *Document {
	r.mu.RLock()
	doc, exists := r.docs[docID]
	r.mu.RUnlock()

	if exists {
		return doc
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if doc, exists = r.docs[docID]; exists {
		return doc
	}

	doc = newDocument(docID, r.logger)
	r.docs[docID] = doc

	metrics.Documents.Inc()

	return doc
}

// Init returns a document's current text and head revision.
func (r *Replica) Init(docID string) (string, int) {
	return r.Document(docID).State()
}

// Get returns commit rev of a document, long-polling until it exists.
func (r *Replica) Get(ctx context.Context, docID string, rev int) (commit.Commit, error) {
	return r.Document(docID).Get(ctx, rev)
}

// Accept folds a globally ordered commit into its document. Calls must come
// from a single replication link, in the master's order.
func (r *Replica) Accept(c commit.Commit) {
	logged := r.Document(c.DocID).accept(c)

	r.logger.Debug("commit accepted",
		zap.String("doc", logged.DocID),
		zap.String("commit", logged.ID),
		zap.Int("revision", logged.Parent+1),
	)
}

// Put forwards a raw commit to the upstream without looking at it. The commit
// shows up in this replica only once the master has ordered it and the
// replication link has pulled it back.
//
// The master does not deduplicate by commit ID, so a put that is retried after
// a timeout but had in fact been delivered is ordered twice.
func (r *Replica) Put(ctx context.Context, raw []byte) error {
	if r.upstream == nil {
		return ErrNoUpstream
	}

	return r.upstream.Submit(ctx, raw)
}
