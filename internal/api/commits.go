package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/protocol"
	"github.com/serroba/online-pad/internal/replica"
	"github.com/serroba/online-pad/internal/sequencer"
)

// handleInit handles POST /init. The head revision goes in a header and the
// text as a JSON string body.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	text, head := s.replica.Init(DocIDFromContext(r.Context()))

	w.Header().Set(protocol.HeaderHead, strconv.Itoa(head))
	s.writeJSON(w, text)
}

// handleGet handles POST /commits/get, long-polling until the requested
// revision exists or the client goes away.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	rev, err := strconv.Atoi(r.Header.Get(protocol.HeaderNextCommit))
	if err != nil {
		http.Error(w, "invalid next-commit header", http.StatusBadRequest)

		return
	}

	c, err := s.replica.Get(r.Context(), DocIDFromContext(r.Context()), rev)
	if err != nil {
		s.writeGetError(w, r, err)

		return
	}

	s.writeJSON(w, c)
}

// handlePut handles PUT /commits/put. The body is forwarded to the master
// untouched.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}

	err := s.replica.Put(r.Context(), raw)
	s.writeCommitStatus(w, r, err)
}

// handleMasterGet handles GET /get, long-polling for a global slot.
func (s *Server) handleMasterGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	slot, err := strconv.Atoi(r.Header.Get(protocol.HeaderSlot))
	if err != nil {
		http.Error(w, "invalid slot header", http.StatusBadRequest)

		return
	}

	c, err := s.sequencer.Fetch(r.Context(), slot)
	if err != nil {
		s.writeGetError(w, r, err)

		return
	}

	s.writeJSON(w, c)
}

// handleMasterPut handles PUT /put.
func (s *Server) handleMasterPut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}

	err := s.sequencer.Submit(r.Context(), raw)
	s.writeCommitStatus(w, r, err)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommitBytes))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return nil, false
	}

	return raw, true
}

// writeCommitStatus answers a put. A dropped commit is still a 200 so that the
// client treats it as acknowledged and resynchronizes rather than retrying.
func (s *Server) writeCommitStatus(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.Header().Set(protocol.HeaderCommitStatus, protocol.StatusAccepted)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, commit.ErrMalformed):
		w.Header().Set(protocol.HeaderCommitStatus, protocol.StatusDropped)
		w.WriteHeader(http.StatusOK)
	case r.Context().Err() != nil:
		// Client is gone, nobody reads the answer.
	default:
		s.logger.Warn("put failed", zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
}

func (s *Server) writeGetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, replica.ErrInvalidRevision), errors.Is(err, sequencer.ErrInvalidSlot):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case r.Context().Err() != nil:
	default:
		s.logger.Error("get failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
