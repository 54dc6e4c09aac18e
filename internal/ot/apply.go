package ot

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by Apply when a diff violates its preconditions.
var (
	ErrOutOfRange   = errors.New("operation out of range")
	ErrUnsortedDiff = errors.New("operations overlap or are out of order")
)

// Apply returns the result of applying d to content.
//
// The diff must be sorted by index with no operation starting before the
// previous delete ends, which is what Compute and Rebase produce. Inserts may
// share an index and are applied in diff order. A diff that breaks this order
// yields ErrUnsortedDiff, and one that reaches past the content yields
// ErrOutOfRange; content is never partially applied.
func Apply(content string, d Diff) (string, error) {
	src := []rune(content)

	var out strings.Builder

	out.Grow(len(content))

	cursor := 0

	for n, op := range d {
		if op == nil {
			return "", fmt.Errorf("op %d: %w", n, ErrUnknownOp)
		}

		at := op.Pos()

		switch {
		case at < cursor:
			return "", fmt.Errorf("op %d at %d before %d: %w", n, at, cursor, ErrUnsortedDiff)
		case at > len(src):
			return "", fmt.Errorf("op %d at %d past %d: %w", n, at, len(src), ErrOutOfRange)
		}

		out.WriteString(string(src[cursor:at]))
		cursor = at

		switch o := op.(type) {
		case Insert:
			out.WriteString(o.Text)
		case Delete:
			if o.Size < 0 || o.End() > len(src) {
				return "", fmt.Errorf("op %d deletes [%d,%d) of %d: %w", n, o.Index, o.End(), len(src), ErrOutOfRange)
			}

			cursor = o.End()
		}
	}

	out.WriteString(string(src[cursor:]))

	return out.String(), nil
}
