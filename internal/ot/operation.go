package ot

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Wire names of the operation kinds.
const (
	kindInsert = "Insert"
	kindDelete = "Delete"
)

// ErrUnknownOp is returned when decoding an operation of an unknown kind.
var ErrUnknownOp = errors.New("unknown operation type")

// Op is a single edit operation. It is either an Insert or a Delete.
// Index is always a rune offset into the pre-operation text.
type Op interface {
	// Pos returns the index the operation applies at.
	Pos() int
	isOp()
}

// Insert splices Text into the document before Index.
type Insert struct {
	Index int
	Text  string
}

// Delete removes Size runes starting at Index.
type Delete struct {
	Index int
	Size  int
}

// Pos returns the insertion index.
func (i Insert) Pos() int { return i.Index }

// Pos returns the index of the first deleted rune.
func (d Delete) Pos() int { return d.Index }

func (Insert) isOp() {}
func (Delete) isOp() {}

// Len returns the number of runes inserted.
func (i Insert) Len() int {
	return utf8.RuneCountInString(i.Text)
}

// End returns the index one past the last deleted rune.
func (d Delete) End() int {
	return d.Index + d.Size
}

// Diff is an ordered sequence of operations that transforms one snapshot into
// the next. Diffs produced by Compute are sorted by index and collapsed.
type Diff []Op

// IsNoop reports whether applying the diff leaves any text unchanged.
func (d Diff) IsNoop() bool {
	for _, op := range d {
		switch o := op.(type) {
		case Insert:
			if o.Text != "" {
				return false
			}
		case Delete:
			if o.Size != 0 {
				return false
			}
		}
	}

	return true
}

// Validate checks the ordering preconditions of Apply without needing the
// content: indices are non-negative, sizes are non-negative and no operation
// starts before the previous one ends.
func (d Diff) Validate() error {
	cursor := 0

	for n, op := range d {
		if op == nil {
			return fmt.Errorf("op %d: %w", n, ErrUnknownOp)
		}

		if op.Pos() < cursor {
			return fmt.Errorf("op %d at %d before %d: %w", n, op.Pos(), cursor, ErrUnsortedDiff)
		}

		cursor = op.Pos()

		if del, ok := op.(Delete); ok {
			if del.Size < 0 {
				return fmt.Errorf("op %d size %d: %w", n, del.Size, ErrOutOfRange)
			}

			cursor = del.End()
		}
	}

	return nil
}

// wireOp is the JSON form shared by both operation kinds.
type wireOp struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Val   string `json:"val,omitempty"`
	Size  int    `json:"size,omitempty"`
}

// MarshalJSON encodes the diff as a list of tagged operations.
func (d Diff) MarshalJSON() ([]byte, error) {
	out := make([]wireOp, 0, len(d))

	for _, op := range d {
		switch o := op.(type) {
		case Insert:
			out = append(out, wireOp{Type: kindInsert, Index: o.Index, Val: o.Text})
		case Delete:
			out = append(out, wireOp{Type: kindDelete, Index: o.Index, Size: o.Size})
		default:
			return nil, ErrUnknownOp
		}
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of tagged operations.
func (d *Diff) UnmarshalJSON(data []byte) error {
	var raw []wireOp
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ops := make(Diff, 0, len(raw))

	for _, w := range raw {
		switch w.Type {
		case kindInsert:
			ops = append(ops, Insert{Index: w.Index, Text: w.Val})
		case kindDelete:
			ops = append(ops, Delete{Index: w.Index, Size: w.Size})
		default:
			return fmt.Errorf("%w: %q", ErrUnknownOp, w.Type)
		}
	}

	*d = ops

	return nil
}
