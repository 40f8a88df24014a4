// Package span converts line-delimited text into offset spans over a
// newline-free canonical content string, and back.
//
// The line break is the unit-of-meaning delimiter: each input line becomes
// one span addressing the concatenated content. Offsets are UTF-8 byte
// offsets, half-open [Start, End).
package span

import "strings"

// Span is a half-open byte interval [Start, End) over canonical content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Width returns the number of bytes the span covers.
func (s Span) Width() int {
	return s.End - s.Start
}

// IsZero returns true for a zero-length placeholder span.
func (s Span) IsZero() bool {
	return s.Start == s.End
}

// Valid reports whether the span addresses content of the given length.
func (s Span) Valid(contentLen int) bool {
	return s.Start >= 0 && s.Start <= s.End && s.End <= contentLen
}

// Text extracts the span's substring from content. Out-of-range spans are
// clamped rather than panicking.
func (s Span) Text(content string) string {
	start, end := s.Start, s.End
	if start < 0 {
		start = 0
	}
	if end > len(content) {
		end = len(content)
	}
	if start >= end {
		return ""
	}
	return content[start:end]
}

// Mode selects the span derivation policy. Both policies are in active use
// by different consumers; neither is a default.
type Mode int

const (
	// ModeStrict gives every input line a span, including a zero-length
	// placeholder for each empty line. Line count and span count match
	// one-to-one, which makes the output reversible.
	ModeStrict Mode = iota

	// ModeCompact discards trailing empty lines, drops interior
	// zero-length lines entirely, and emits spans only for non-empty
	// lines. Lines containing only whitespace are kept.
	ModeCompact
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeCompact:
		return "compact"
	default:
		return "unknown"
	}
}

// Result is the output of Forward: ordered spans plus the canonical
// newline-free content they address.
type Result struct {
	Spans   []Span `json:"spans"`
	Content string `json:"content"`
}

// Forward splits text on '\n' and derives one span per kept line over the
// concatenation of kept lines. The content never contains line breaks.
// Empty input yields an empty Result; malformed content never panics.
func Forward(text string, mode Mode) Result {
	if text == "" {
		return Result{}
	}

	lines := strings.Split(text, "\n")
	if mode == ModeCompact {
		for len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
	}

	var b strings.Builder
	spans := make([]Span, 0, len(lines))
	pos := 0
	for _, line := range lines {
		if line == "" {
			if mode == ModeStrict {
				spans = append(spans, Span{Start: pos, End: pos})
			}
			continue
		}
		spans = append(spans, Span{Start: pos, End: pos + len(line)})
		pos += len(line)
		b.WriteString(line)
	}

	return Result{Spans: spans, Content: b.String()}
}

// Reverse reconstructs a line-delimited editable view from content and its
// spans: each span's substring becomes one line, in span order. It is the
// round-trip partner of Forward in strict mode.
func Reverse(content string, spans []Span) string {
	if len(spans) == 0 {
		return ""
	}
	lines := make([]string, len(spans))
	for i, s := range spans {
		lines[i] = s.Text(content)
	}
	return strings.Join(lines, "\n")
}

// Contiguous reports whether spans tile [0, contentLen) exactly in order:
// the first starts at 0, each begins where the previous ended, and the last
// ends at contentLen. Zero-length spans are permitted anywhere in the run.
func Contiguous(spans []Span, contentLen int) bool {
	pos := 0
	for _, s := range spans {
		if s.Start != pos || s.End < s.Start {
			return false
		}
		pos = s.End
	}
	return pos == contentLen
}

// Overlaps reports whether any two spans share bytes. Spans need not be
// sorted; zero-length spans never overlap anything.
func Overlaps(spans []Span) bool {
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Start < sorted[j-1].Start; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Start < prev.End && cur.Start < cur.End && prev.Start < prev.End {
			return true
		}
	}
	return false
}
