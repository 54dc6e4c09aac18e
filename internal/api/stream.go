package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/protocol"
	"github.com/serroba/online-pad/internal/ws"
)

// handleStream handles GET /commits/stream. After the upgrade every commit of
// the document from next-commit onwards is pushed as it is logged.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	docID := headerOrQuery(r, protocol.HeaderDocID)
	if docID == "" {
		http.Error(w, "missing doc-id", http.StatusBadRequest)

		return
	}

	from, err := strconv.Atoi(headerOrQuery(r, protocol.HeaderNextCommit))
	if err != nil || from < 1 {
		http.Error(w, "invalid next-commit", http.StatusBadRequest)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))

		return
	}

	client := ws.NewClient(uuid.NewString(), docID, conn)
	s.hub.Register(client)

	defer func() {
		s.hub.Unregister(client)
		_ = client.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The stream is one way. Reading is only there to notice the peer closing.
	go func() {
		defer cancel()

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = client.Stream(ctx, s.replica, from)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("commit stream ended",
			zap.String("doc", docID),
			zap.String("client", client.ID),
			zap.Error(err),
		)
	}
}

func headerOrQuery(r *http.Request, key string) string {
	if v := r.Header.Get(key); v != "" {
		return v
	}

	return r.URL.Query().Get(key)
}
