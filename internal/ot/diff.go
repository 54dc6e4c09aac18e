package ot

// Edge choices recorded by the edit-distance table.
const (
	stepNone byte = iota
	stepInsert
	stepDelete
	stepEqual
)

// Compute returns a minimal edit script that transforms a into b.
//
// It fills an edit-distance table over every prefix pair, so time and memory
// are O(len(a)*len(b)) in runes. That is fine for documents typed by people and
// wrong for large files. When several predecessors share the lowest cost the
// insert wins, then the delete, then the equal step; the output depends on this
// order.
func Compute(a, b string) Diff {
	ra, rb := []rune(a), []rune(b)
	rows, cols := len(ra)+1, len(rb)+1

	cost := make([]int, rows*cols)
	step := make([]byte, rows*cols)

	for i := range rows {
		for j := range cols {
			if i == 0 && j == 0 {
				continue
			}

			at := i*cols + j
			best, choice := 0, stepNone

			if j > 0 {
				best, choice = cost[at-1]+1, stepInsert
			}

			if i > 0 {
				if c := cost[at-cols] + 1; choice == stepNone || c < best {
					best, choice = c, stepDelete
				}
			}

			if i > 0 && j > 0 && ra[i-1] == rb[j-1] {
				if c := cost[at-cols-1]; c < best {
					best, choice = c, stepEqual
				}
			}

			cost[at], step[at] = best, choice
		}
	}

	var ops []Op

	for i, j := len(ra), len(rb); i > 0 || j > 0; {
		switch step[i*cols+j] {
		case stepInsert:
			ops = append(ops, Insert{Index: i, Text: string(rb[j-1])})
			j--
		case stepDelete:
			ops = append(ops, Delete{Index: i - 1, Size: 1})
			i--
		default:
			i--
			j--
		}
	}

	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}

	return collapse(ops)
}

// collapse merges runs of same-kind operations that touch: inserts at the same
// index are concatenated, deletes that continue where the previous one ended
// are joined.
func collapse(ops []Op) Diff {
	if len(ops) == 0 {
		return Diff{}
	}

	out := make(Diff, 0, len(ops))
	running := ops[0]

	for _, op := range ops[1:] {
		switch cur := running.(type) {
		case Insert:
			if next, ok := op.(Insert); ok && next.Index == cur.Index {
				cur.Text += next.Text
				running = cur

				continue
			}
		case Delete:
			if next, ok := op.(Delete); ok && next.Index == cur.End() {
				cur.Size += next.Size
				running = cur

				continue
			}
		}

		out = append(out, running)
		running = op
	}

	return append(out, running)
}
