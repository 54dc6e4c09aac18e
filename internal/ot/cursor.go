package ot

import "strings"

// Selection bounds travel through diffs as these two runes. They are control
// characters a text field never produces.
const (
	SelectionStart = '\x00'
	SelectionEnd   = '\x01'
)

// IsMarker reports whether r is one of the selection markers.
func IsMarker(r rune) bool {
	return r == SelectionStart || r == SelectionEnd
}

// InjectMarkers embeds the selection [start, end) into text. Bounds are rune
// offsets and are clamped to the text; a reversed selection is swapped.
func InjectMarkers(text string, start, end int) string {
	src := []rune(text)
	start, end = clamp(start, len(src)), clamp(end, len(src))

	if start > end {
		start, end = end, start
	}

	var b strings.Builder

	b.Grow(len(text) + 2)
	b.WriteString(string(src[:start]))
	b.WriteRune(SelectionStart)
	b.WriteString(string(src[start:end]))
	b.WriteRune(SelectionEnd)
	b.WriteString(string(src[end:]))

	return b.String()
}

// StripMarkers removes every marker from text and returns the selection they
// described. If one marker is missing it collapses onto the other; if both are
// missing the selection is empty at 0.
func StripMarkers(text string) (plain string, start, end int) {
	var b strings.Builder

	b.Grow(len(text))

	start, end = -1, -1
	n := 0

	for _, r := range text {
		switch {
		case r == SelectionStart:
			if start < 0 {
				start = n
			}
		case r == SelectionEnd:
			if end < 0 {
				end = n
			}
		default:
			b.WriteRune(r)
			n++
		}
	}

	switch {
	case start < 0 && end < 0:
		start, end = 0, 0
	case start < 0:
		start = end
	case end < 0:
		end = start
	}

	if start > end {
		start, end = end, start
	}

	return b.String(), start, end
}

func clamp(v, hi int) int {
	return max(0, min(v, hi))
}
