package ot_test

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/serroba/online-pad/internal/ot"
)

const alphabet = "abcdefghijklnnopqrstuwxyz"

func randomString(rng *rand.Rand, n int) string {
	var b strings.Builder

	for range n {
		b.WriteByte(alphabet[rng.IntN(len(alphabet))])
	}

	return b.String()
}

func TestCompute_RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))

	for i := range 100 {
		a := randomString(rng, i)
		b := randomString(rng, rng.IntN(i+1))

		got, err := ot.Apply(a, ot.Compute(a, b))
		require.NoError(t, err)

		if got != b {
			t.Fatalf("apply(%q, compute(%q, %q)) = %q", a, a, b, got)
		}
	}
}

func TestCompute_SmallCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want ot.Diff
	}{
		{"", "", ot.Diff{}},
		{"a", "b", ot.Diff{ot.Delete{Index: 0, Size: 1}, ot.Insert{Index: 1, Text: "b"}}},
		{"", "abc", ot.Diff{ot.Insert{Index: 0, Text: "abc"}}},
		{"abc", "", ot.Diff{ot.Delete{Index: 0, Size: 3}}},
		{"ab", "ad", ot.Diff{ot.Delete{Index: 1, Size: 1}, ot.Insert{Index: 2, Text: "d"}}},
		{"ab", "cb", ot.Diff{ot.Delete{Index: 0, Size: 1}, ot.Insert{Index: 1, Text: "c"}}},
		{"abc", "abc", ot.Diff{}},
		{"héllo", "hello", ot.Diff{ot.Delete{Index: 1, Size: 1}, ot.Insert{Index: 2, Text: "e"}}},
	}

	for _, tt := range tests {
		got := ot.Compute(tt.a, tt.b)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Compute(%q, %q) mismatch (-want +got):\n%s", tt.a, tt.b, diff)
		}

		applied, err := ot.Apply(tt.a, got)
		require.NoError(t, err)
		require.Equal(t, tt.b, applied)
	}
}

func TestCompute_Collapsed(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))

	for i := range 60 {
		d := ot.Compute(randomString(rng, i), randomString(rng, i))
		require.NoError(t, d.Validate())

		for k := 1; k < len(d); k++ {
			switch prev := d[k-1].(type) {
			case ot.Insert:
				if next, ok := d[k].(ot.Insert); ok && next.Index == prev.Index {
					t.Fatalf("adjacent inserts at %d not collapsed: %v", prev.Index, d)
				}
			case ot.Delete:
				if next, ok := d[k].(ot.Delete); ok && next.Index == prev.End() {
					t.Fatalf("adjacent deletes at %d not collapsed: %v", next.Index, d)
				}
			}
		}
	}
}

func TestCompute_LongInput(t *testing.T) {
	t.Parallel()

	a := strings.Repeat("a", 200)
	b := strings.Repeat("ba", 200)

	got, err := ot.Apply(a, ot.Compute(a, b))
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestApply_Preconditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		diff ot.Diff
		want error
	}{
		{"unsorted", ot.Diff{ot.Insert{Index: 3, Text: "x"}, ot.Insert{Index: 1, Text: "y"}}, ot.ErrUnsortedDiff},
		{"overlapping deletes", ot.Diff{ot.Delete{Index: 0, Size: 3}, ot.Delete{Index: 2, Size: 1}}, ot.ErrUnsortedDiff},
		{"insert past end", ot.Diff{ot.Insert{Index: 6, Text: "x"}}, ot.ErrOutOfRange},
		{"delete past end", ot.Diff{ot.Delete{Index: 3, Size: 3}}, ot.ErrOutOfRange},
		{"negative size", ot.Diff{ot.Delete{Index: 1, Size: -1}}, ot.ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ot.Apply("hello", tt.diff)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestApply_InsertsAtSameIndex(t *testing.T) {
	t.Parallel()

	got, err := ot.Apply("ad", ot.Diff{
		ot.Insert{Index: 1, Text: "b"},
		ot.Insert{Index: 1, Text: "c"},
		ot.Delete{Index: 1, Size: 1},
	})
	require.NoError(t, err)
	require.Equal(t, "abc", got)
}

func TestDiff_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, ot.Diff{ot.Delete{Index: 0, Size: 2}, ot.Insert{Index: 2, Text: "x"}}.Validate())
	require.ErrorIs(t, ot.Diff{ot.Delete{Index: 0, Size: 2}, ot.Insert{Index: 1, Text: "x"}}.Validate(), ot.ErrUnsortedDiff)
	require.ErrorIs(t, ot.Diff{ot.Delete{Index: 0, Size: -2}}.Validate(), ot.ErrOutOfRange)
}

func TestDiff_IsNoop(t *testing.T) {
	t.Parallel()

	require.True(t, ot.Diff{}.IsNoop())
	require.True(t, ot.Diff{ot.Delete{Index: 4}}.IsNoop())
	require.False(t, ot.Compute("a", "ab").IsNoop())
}

func TestDiff_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(ot.Diff{ot.Insert{Index: 2, Text: "hi"}, ot.Delete{Index: 4, Size: 1}})
	require.NoError(t, err)
	require.JSONEq(t, `[{"type":"Insert","index":2,"val":"hi"},{"type":"Delete","index":4,"size":1}]`, string(data))

	var d ot.Diff
	require.ErrorIs(t, json.Unmarshal([]byte(`[{"type":"Move","index":1}]`), &d), ot.ErrUnknownOp)
}
