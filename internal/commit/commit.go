// Package commit defines the unit of replication and the per-document log that
// orders it.
package commit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/serroba/online-pad/internal/ot"
)

// ErrMalformed marks a commit that is acknowledged but dropped instead of
// being ordered. Senders must resynchronize rather than retry it.
var ErrMalformed = errors.New("malformed commit")

// Commit is one diff submitted by a client against a parent revision.
// Once a log accepts it, Parent is the revision it was appended after.
type Commit struct {
	ID       string  `json:"id"`
	ClientID string  `json:"clientID"`
	Parent   int     `json:"parent"`
	Diff     ot.Diff `json:"diff"`
	DocID    string  `json:"docID"`
}

// New builds a commit with a fresh time-ordered ID.
func New(docID, clientID string, parent int, diff ot.Diff) Commit {
	return Commit{
		ID:       uuid.Must(uuid.NewV7()).String(),
		ClientID: clientID,
		Parent:   parent,
		Diff:     diff,
		DocID:    docID,
	}
}

// Decode parses a serialized commit. Any parse failure is reported as
// ErrMalformed.
func Decode(raw []byte) (Commit, error) {
	var c Commit
	if err := json.Unmarshal(raw, &c); err != nil {
		return Commit{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return c, nil
}

// Encode serializes the commit.
func (c Commit) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Check rejects commits that cannot be ordered: no document, a diff that
// changes nothing or is out of order, or a parent outside [0, head].
func (c Commit) Check(head int) error {
	switch {
	case c.DocID == "":
		return fmt.Errorf("%w: missing document id", ErrMalformed)
	case c.Diff.IsNoop():
		return fmt.Errorf("%w: empty diff", ErrMalformed)
	case c.Parent < 0 || c.Parent > head:
		return fmt.Errorf("%w: parent %d outside [0, %d]", ErrMalformed, c.Parent, head)
	}

	if err := c.Diff.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return nil
}
