package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/replica"
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Getter long-polls a document for a revision.
type Getter interface {
	Get(ctx context.Context, docID string, rev int) (commit.Commit, error)
}

// Client is one open commit stream.
type Client struct {
	ID    string
	DocID string
	conn  Conn

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new client wrapper.
func NewClient(id, docID string, conn Conn) *Client {
	return &Client{
		ID:    id,
		DocID: docID,
		conn:  conn,
	}
}

// Send sends a message to the client.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteJSON(msg)
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Stream sends every commit of the client's document from revision from
// onwards, waiting for each one as needed, until ctx is cancelled or a send
// fails.
func (c *Client) Stream(ctx context.Context, src Getter, from int) error {
	for rev := from; ; rev++ {
		cm, err := src.Get(ctx, c.DocID, rev)
		if err != nil {
			if ctx.Err() == nil {
				_ = c.SendError(errorCode(err), err.Error())
			}

			return err
		}

		if err := c.Send(Message{
			Type:    MessageTypeCommit,
			Payload: CommitPayload{Revision: rev, Commit: cm},
		}); err != nil {
			return err
		}
	}
}

func errorCode(err error) string {
	if errors.Is(err, replica.ErrInvalidRevision) {
		return ErrorCodeInvalidRevision
	}

	return ErrorCodeInternalError
}

// Close closes the client connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	return c.conn.Close()
}
