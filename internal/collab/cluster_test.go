package collab_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/serroba/online-pad/internal/api"
	"github.com/serroba/online-pad/internal/collab"
	"github.com/serroba/online-pad/internal/link"
	"github.com/serroba/online-pad/internal/replica"
	"github.com/serroba/online-pad/internal/sequencer"
	"github.com/serroba/online-pad/internal/transport"
)

const (
	testDocID  = "doc1"
	retryDelay = 10 * time.Millisecond
	waitFor    = 5 * time.Second
	tick       = 5 * time.Millisecond
)

// cluster is a master and one edge replica, each behind its own HTTP server.
type cluster struct {
	ctx    context.Context
	master *replica.Replica

	masterURL string
	edgeURL   string
}

func newCluster(t *testing.T) *cluster {
	t.Helper()

	logger := zaptest.NewLogger(t)

	seq := sequencer.New(logger)
	master := replica.New(replica.Config{Upstream: seq, Logger: logger})
	masterSrv := httptest.NewServer(api.NewServer(api.ServerConfig{
		Replica:   master,
		Sequencer: seq,
		Logger:    logger,
	}).Handler())
	t.Cleanup(masterSrv.Close)

	upstream := transport.New(transport.Config{
		BaseURL:    masterSrv.URL,
		RetryDelay: retryDelay,
		Logger:     logger,
	})
	edge := replica.New(replica.Config{Upstream: upstream, Logger: logger})
	edgeSrv := httptest.NewServer(api.NewServer(api.ServerConfig{
		Replica: edge,
		Logger:  logger,
	}).Handler())
	t.Cleanup(edgeSrv.Close)

	var wg sync.WaitGroup

	t.Cleanup(wg.Wait)

	// Cancelled before the servers close so no long-poll is left open.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for _, l := range []*link.Link{
		link.New(link.Config{Source: seq, Sink: master, Logger: logger}),
		link.New(link.Config{Source: upstream, Sink: edge, RetryDelay: retryDelay, Logger: logger}),
	} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = l.Run(ctx)
		}()
	}

	return &cluster{
		ctx:       ctx,
		master:    master,
		masterURL: masterSrv.URL,
		edgeURL:   edgeSrv.URL,
	}
}

func (c *cluster) transport(t *testing.T, url string) *transport.Client {
	t.Helper()

	return transport.New(transport.Config{
		BaseURL:    url,
		RetryDelay: retryDelay,
		Logger:     zaptest.NewLogger(t),
	})
}

// start runs a session against url and waits for it to load.
func (c *cluster) start(t *testing.T, url string, surface collab.Surface) *collab.Session {
	t.Helper()

	s := collab.NewSession(collab.SessionConfig{
		DocID:      testDocID,
		Surface:    surface,
		Transport:  c.transport(t, url),
		RetryDelay: retryDelay,
		Logger:     zaptest.NewLogger(t),
	})

	ctx, cancel := context.WithCancel(c.ctx)

	go func() {
		_ = s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})

	select {
	case <-s.Ready():
	case <-time.After(waitFor):
		t.Fatal("session did not load")
	}

	return s
}

func (c *cluster) masterText() string {
	text, _ := c.master.Init(testDocID)

	return text
}

func (c *cluster) masterHead() int {
	_, head := c.master.Init(testDocID)

	return head
}

// fakeSurface is an in-memory editor. Propose is atomic.
type fakeSurface struct {
	mu    sync.Mutex
	state collab.State

	// interfere, if set, runs once inside the next Propose before the check,
	// as if the user typed while the merge was computed.
	interfere func(collab.State) collab.State
}

func (f *fakeSurface) GetState() collab.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeSurface) SetState(st collab.State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = st
}

func (f *fakeSurface) Propose(base, next collab.State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.interfere != nil {
		f.state = f.interfere(f.state)
		f.interfere = nil
	}

	if f.state != base {
		return false
	}

	f.state = next

	return true
}

// typeText replaces the text and puts the caret at its end.
func (f *fakeSurface) typeText(text string) {
	n := len([]rune(text))
	f.SetState(collab.State{Text: text, SelectionStart: n, SelectionEnd: n})
}

func (f *fakeSurface) text() string {
	return f.GetState().Text
}

func (f *fakeSurface) setInterfere(fn func(collab.State) collab.State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.interfere = fn
}

// plainSurface hides Propose so the session has to compare and set itself.
type plainSurface struct {
	inner *fakeSurface
}

func (p plainSurface) GetState() collab.State   { return p.inner.GetState() }
func (p plainSurface) SetState(st collab.State) { p.inner.SetState(st) }

func requireText(t *testing.T, want string, surfaces ...*fakeSurface) {
	t.Helper()

	for _, s := range surfaces {
		require.Eventually(t, func() bool {
			return s.text() == want
		}, waitFor, tick, "surface never showed %q", want)
	}
}
