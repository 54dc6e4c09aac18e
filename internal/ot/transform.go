package ot

// Rebase takes two diffs computed against the same snapshot and returns a diff
// with the intent of incoming that can be applied after base.
//
// Neither argument is modified. When both diffs touch the same index the base
// insert goes first, then the incoming insert, then the base delete. Text that
// incoming inserts inside a range base deleted is dropped, except for cursor
// markers, which are re-inserted where the deleted range was.
func Rebase(base, incoming Diff) Diff {
	r := rebaser{
		base:     base,
		incoming: append(Diff(nil), incoming...),
		out:      make(Diff, 0, len(incoming)),
	}

	for r.i < len(r.base) && r.j < len(r.incoming) {
		old, cur := r.base[r.i], r.incoming[r.j]

		switch {
		case old.Pos() < cur.Pos():
			r.stepBase()
		case cur.Pos() < old.Pos():
			r.stepIncoming()
		default:
			_, oldIns := old.(Insert)
			_, curIns := cur.(Insert)

			if oldIns || !curIns {
				r.stepBase()
			} else {
				r.stepIncoming()
			}
		}
	}

	for r.j < len(r.incoming) {
		r.stepIncoming()
	}

	return r.out
}

// rebaser is the state of one Rebase sweep. incoming is a private copy, so
// clipping a partially deleted op never touches the caller's diff.
type rebaser struct {
	base     Diff
	incoming Diff
	out      Diff
	i, j     int
	shift    int
}

func (r *rebaser) stepBase() {
	switch old := r.base[r.i].(type) {
	case Insert:
		r.shift += old.Len()
	case Delete:
		r.baseDelete(old)
	}

	r.i++
}

func (r *rebaser) stepIncoming() {
	switch cur := r.incoming[r.j].(type) {
	case Insert:
		cur.Index += r.shift
		r.out = append(r.out, cur)
	case Delete:
		r.incomingDelete(cur)
	}

	r.j++
}

// baseDelete swallows every incoming op that starts inside old. A delete that
// runs past old is clipped to its surviving tail and left for later.
func (r *rebaser) baseDelete(old Delete) {
	for r.j < len(r.incoming) && r.incoming[r.j].Pos() < old.End() {
		switch cur := r.incoming[r.j].(type) {
		case Insert:
			for _, m := range cur.Text {
				if IsMarker(m) {
					r.out = append(r.out, Insert{Index: old.Index + r.shift, Text: string(m)})
				}
			}
		case Delete:
			if cur.End() > old.End() {
				r.incoming[r.j] = Delete{Index: old.End(), Size: cur.End() - old.End()}
				r.shift -= old.Size

				return
			}
		}

		r.j++
	}

	r.shift -= old.Size
}

// incomingDelete shifts cur into post-base coordinates and resizes it for the
// base ops that fall inside its original bounds.
func (r *rebaser) incomingDelete(cur Delete) {
	start, end := cur.Index, cur.End()
	out := Delete{Index: start + r.shift, Size: cur.Size}

	for r.i < len(r.base) && r.base[r.i].Pos() < end {
		switch old := r.base[r.i].(type) {
		case Insert:
			out.Size += old.Len()
			r.shift += old.Len()
		case Delete:
			if old.End() >= end {
				out.Size -= end - old.Index
				r.out = append(r.out, out)

				return
			}

			out.Size -= old.Size
			r.shift -= old.Size
		}

		r.i++
	}

	r.out = append(r.out, out)
}
