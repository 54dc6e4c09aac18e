package ws

import "github.com/serroba/online-pad/internal/commit"

// MessageType identifies the kind of WebSocket message.
type MessageType string

// Server to client messages.
const (
	MessageTypeCommit MessageType = "commit" // Next commit of the streamed document
	MessageTypeError  MessageType = "error"  // Stream ended with an error
)

// Message is the envelope for all WebSocket communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// CommitPayload carries one commit and the revision it was logged at.
type CommitPayload struct {
	Revision int           `json:"revision"`
	Commit   commit.Commit `json:"commit"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeInvalidRevision = "invalid_revision"
	ErrorCodeInternalError   = "internal_error"
)
