package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/metrics"
	"github.com/serroba/online-pad/internal/protocol"
	"github.com/serroba/online-pad/internal/replica"
	"github.com/serroba/online-pad/internal/sequencer"
	"github.com/serroba/online-pad/internal/ws"
)

// maxCommitBytes bounds the body of a put.
const maxCommitBytes = 4 << 20

// Server handles HTTP requests for one replica, and for the master's ordering
// endpoints when a sequencer is configured.
type Server struct {
	replica   *replica.Replica
	sequencer *sequencer.Sequencer
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Replica *replica.Replica
	// Sequencer is set on the master only.
	Sequencer *sequencer.Sequencer
	Hub       *ws.Hub
	Logger    *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hub := cfg.Hub
	if hub == nil {
		hub = ws.NewHub()
	}

	return &Server{
		replica:   cfg.Replica,
		sequencer: cfg.Sequencer,
		hub:       hub,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Replica endpoints (require doc-id)
	mux.Handle(protocol.PathInit, s.docMiddleware(http.HandlerFunc(s.handleInit)))
	mux.Handle(protocol.PathGet, s.docMiddleware(http.HandlerFunc(s.handleGet)))
	mux.Handle(protocol.PathPut, s.docMiddleware(http.HandlerFunc(s.handlePut)))

	// Commit stream takes its parameters from headers or the query string
	mux.HandleFunc(protocol.PathStream, s.handleStream)

	if s.sequencer != nil {
		mux.HandleFunc(protocol.PathMasterGet, s.handleMasterGet)
		mux.HandleFunc(protocol.PathMasterPut, s.handleMasterPut)
	}

	mux.Handle(protocol.PathMetrics, metrics.Handler())
	mux.HandleFunc(protocol.PathHealth, s.handleHealth)

	return s.recoverMiddleware(s.logMiddleware(mux))
}

// Close ends every open commit stream.
func (s *Server) Close() {
	s.hub.CloseAll()
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}
