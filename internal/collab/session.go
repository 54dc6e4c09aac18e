// Package collab is the client side of collaborative editing. A Session keeps
// one editing surface in sync with a document on a replica: it commits local
// edits optimistically and merges remote commits into the surface without
// losing uncommitted text or the selection.
package collab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/ot"
)

// DefaultRetryDelay is the pause after a failed request.
const DefaultRetryDelay = time.Second

const mailboxSize = 64

// ErrSessionClosed is returned when the session has stopped running.
var ErrSessionClosed = errors.New("session is closed")

// State is what an editing surface shows: its text and the selection, both
// in rune offsets.
type State struct {
	Text           string
	SelectionStart int
	SelectionEnd   int
}

// Surface is the editor a session drives. Both calls must take effect
// immediately.
type Surface interface {
	GetState() State
	SetState(State)
}

// Proposer is implemented by surfaces that can swap their state atomically:
// Propose installs next only if the surface still shows base, and reports
// whether it did. Without it the session compares and sets in two steps.
type Proposer interface {
	Propose(base, next State) bool
}

// Transport reaches a replica.
type Transport interface {
	Init(ctx context.Context, docID string) (string, int, error)
	Put(ctx context.Context, c commit.Commit) error
	Get(ctx context.Context, docID string, rev int) (commit.Commit, error)
}

// Phase is where a session is in its commit and merge cycle.
type Phase int

// Session phases.
const (
	Idle Phase = iota
	CommitPending
	ApplyingRemote
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case CommitPending:
		return "commit-pending"
	case ApplyingRemote:
		return "applying-remote"
	default:
		return "unknown"
	}
}

// Session syncs one surface with one document. All of its state is owned by
// the goroutine running Run; the exported methods post work to it.
type Session struct {
	docID    string
	clientID string

	surface    Surface
	transport  Transport
	clock      clockwork.Clock
	retryDelay time.Duration
	logger     *zap.Logger

	mailbox chan func()
	done    chan struct{}
	ready   chan struct{}
	started atomic.Bool

	// Owned by the event loop.
	ctx       context.Context
	head      int
	headText  string
	queue     []commit.Commit
	pendingID string
	retry     bool
	applying  bool
	stale     bool
	paused    bool

	statusMu sync.RWMutex
	status   status
}

type status struct {
	head     int
	headText string
	phase    Phase
	paused   bool
}

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	DocID string
	// ClientID tags this session's commits. A random one is used when empty.
	ClientID   string
	Surface    Surface
	Transport  Transport
	Clock      clockwork.Clock
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// NewSession creates a session. Nothing happens until Run is called.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		docID:      cfg.DocID,
		clientID:   cfg.ClientID,
		surface:    cfg.Surface,
		transport:  cfg.Transport,
		clock:      cfg.Clock,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		mailbox:    make(chan func(), mailboxSize),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
	}

	if s.clientID == "" {
		s.clientID = uuid.NewString()
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.logger = s.logger.With(zap.String("doc", s.docID), zap.String("client", s.clientID))

	return s
}

// DocID returns the document this session edits.
func (s *Session) DocID() string {
	return s.docID
}

// ClientID returns the ID stamped on this session's commits.
func (s *Session) ClientID() string {
	return s.clientID
}

// Run loads the document, then processes local edits and remote commits until
// ctx is cancelled. It can only be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}

	defer close(s.done)

	return s.run(ctx)
}

func (s *Session) run(ctx context.Context) error {
	s.ctx = ctx

	if err := s.load(ctx); err != nil {
		return err
	}

	close(s.ready)

	go s.pull(ctx, s.head+1)

	for {
		if s.stale {
			select {
			case fn := <-s.mailbox:
				fn()
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.stale = false

				if s.negotiate() {
					s.drain()
				}
			}

			s.publish()

			continue
		}

		select {
		case fn := <-s.mailbox:
			fn()
			s.publish()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Ready is closed once the document has been loaded into the surface.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// TryCommit sends the surface's uncommitted edits. If a commit is already in
// flight, or a remote commit is being merged, the edits are sent once that
// finishes.
func (s *Session) TryCommit() {
	s.post(s.tryCommit)
}

// Pause stops merging remote commits into the surface. They queue up until
// Play. Local edits are still committed.
func (s *Session) Pause() {
	s.post(func() {
		s.paused = true
	})
}

// Play resumes merging remote commits.
func (s *Session) Play() {
	s.post(func() {
		s.paused = false
		s.drain()
	})
}

// Head returns the last revision merged into the surface.
func (s *Session) Head() int {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return s.status.head
}

// HeadText returns the document text at Head.
func (s *Session) HeadText() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return s.status.headText
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return s.status.phase
}

// Paused reports whether remote commits are held back.
func (s *Session) Paused() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return s.status.paused
}

func (s *Session) post(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.done:
	}
}

func (s *Session) publish() {
	phase := Idle

	switch {
	case s.applying:
		phase = ApplyingRemote
	case s.pendingID != "":
		phase = CommitPending
	}

	s.statusMu.Lock()
	s.status = status{head: s.head, headText: s.headText, phase: phase, paused: s.paused}
	s.statusMu.Unlock()
}

// load fetches the document, retrying until it succeeds, and shows it.
func (s *Session) load(ctx context.Context) error {
	for {
		text, head, err := s.transport.Init(ctx, s.docID)
		if err == nil {
			s.head = head
			s.headText = text

			cur := s.surface.GetState()
			s.surface.SetState(clampState(State{
				Text:           text,
				SelectionStart: cur.SelectionStart,
				SelectionEnd:   cur.SelectionEnd,
			}))
			s.publish()

			s.logger.Debug("document loaded", zap.Int("head", head))

			return nil
		}

		if err := s.wait(ctx, "init failed", err); err != nil {
			return err
		}
	}
}

// pull fetches revision after revision and hands them to the event loop.
func (s *Session) pull(ctx context.Context, next int) {
	for {
		c, err := s.transport.Get(ctx, s.docID, next)
		if err != nil {
			if err := s.wait(ctx, "get failed", err, zap.Int("revision", next)); err != nil {
				return
			}

			continue
		}

		if c.Parent != next-1 {
			s.logger.Warn("commit out of sequence",
				zap.Int("revision", next),
				zap.Int("parent", c.Parent),
				zap.String("commit", c.ID),
			)

			if err := s.sleep(ctx); err != nil {
				return
			}

			continue
		}

		s.post(func() {
			s.queue = append(s.queue, c)
			s.drain()
		})

		next++
	}
}

// wait logs a failed request and sleeps for the retry delay.
func (s *Session) wait(ctx context.Context, msg string, err error, fields ...zap.Field) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.Warn(msg, append(fields, zap.Duration("retry_in", s.retryDelay), zap.Error(err))...)

	return s.sleep(ctx)
}

func (s *Session) sleep(ctx context.Context) error {
	select {
	case <-s.clock.After(s.retryDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) tryCommit() {
	if s.pendingID != "" || s.applying {
		s.retry = true

		return
	}

	s.retry = false

	diff := ot.Compute(s.headText, s.surface.GetState().Text)
	if diff.IsNoop() {
		return
	}

	c := commit.New(s.docID, s.clientID, s.head, diff)
	s.pendingID = c.ID

	s.logger.Debug("committing", zap.String("commit", c.ID), zap.Int("parent", c.Parent))

	go s.send(s.ctx, c)
}

// send puts a commit. Success is not the acknowledgement: that is the commit
// coming back through the pull loop.
func (s *Session) send(ctx context.Context, c commit.Commit) {
	err := s.transport.Put(ctx, c)

	switch {
	case err == nil, ctx.Err() != nil:
		return
	case errors.Is(err, commit.ErrMalformed):
		s.logger.Warn("commit dropped by master", zap.String("commit", c.ID))

		s.post(func() {
			if s.pendingID == c.ID {
				s.acknowledge()
			}
		})
	default:
		if s.wait(ctx, "put failed", err, zap.String("commit", c.ID)) != nil {
			return
		}

		s.post(func() {
			if s.pendingID == c.ID {
				s.pendingID = ""
				s.tryCommit()
			}
		})
	}
}

func (s *Session) acknowledge() {
	s.pendingID = ""

	if s.retry {
		s.tryCommit()
	}
}

// drain works through queued remote commits until the queue is empty, the
// session is paused, or a merge has to be retried.
func (s *Session) drain() {
	for !s.paused && !s.applying && len(s.queue) > 0 {
		c := s.queue[0]

		if c.ClientID != s.clientID {
			s.applying = true

			if !s.negotiate() {
				return
			}

			continue
		}

		// Already shown on the surface.
		s.queue = s.queue[1:]
		s.advance(c)

		if c.ID == s.pendingID {
			s.acknowledge()
		}
	}
}

// negotiate merges the first queued commit into the surface and reports
// whether it did. If the surface changes while the merge is computed, the
// attempt is discarded and repeated from the event loop against the new state.
func (s *Session) negotiate() bool {
	if s.paused {
		s.applying = false

		return false
	}

	c := s.queue[0]

	before := s.surface.GetState()
	marked := ot.InjectMarkers(before.Text, before.SelectionStart, before.SelectionEnd)
	local := ot.Compute(s.headText, marked)
	rebased := ot.Rebase(c.Diff, local)

	merged, err := ot.Apply(s.headText, c.Diff)
	if err != nil {
		s.logger.Error("remote commit does not apply to head",
			zap.String("commit", c.ID),
			zap.Int("parent", c.Parent),
			zap.Error(err),
		)

		merged = s.headText
	}

	candidate, err := ot.Apply(merged, rebased)
	if err != nil {
		s.logger.Error("local edits do not apply after remote commit",
			zap.String("commit", c.ID),
			zap.Error(err),
		)

		candidate = ot.InjectMarkers(merged, before.SelectionStart, before.SelectionEnd)
	}

	text, start, end := ot.StripMarkers(candidate)
	next := State{Text: text, SelectionStart: start, SelectionEnd: end}

	if !s.propose(before, next) {
		s.logger.Debug("surface changed during merge, retrying", zap.String("commit", c.ID))
		s.stale = true

		return false
	}

	s.queue = s.queue[1:]
	s.head = c.Parent + 1
	s.headText = merged
	s.applying = false

	s.tryCommit()

	return true
}

func (s *Session) propose(base, next State) bool {
	if p, ok := s.surface.(Proposer); ok {
		return p.Propose(base, next)
	}

	if s.surface.GetState() != base {
		return false
	}

	s.surface.SetState(next)

	return true
}

// advance moves head over one of this session's own commits.
func (s *Session) advance(c commit.Commit) {
	text, err := ot.Apply(s.headText, c.Diff)
	if err != nil {
		s.logger.Error("own commit does not apply to head",
			zap.String("commit", c.ID),
			zap.Error(err),
		)

		text = s.headText
	}

	s.head = c.Parent + 1
	s.headText = text
}

func clampState(st State) State {
	n := utf8.RuneCountInString(st.Text)

	st.SelectionStart = min(max(st.SelectionStart, 0), n)
	st.SelectionEnd = min(max(st.SelectionEnd, 0), n)

	return st
}
