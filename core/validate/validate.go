// Package validate provides advisory content checks for document
// submission: per-language terminal punctuation and per-segment character
// limits. The checks only report; gating a save on them is the caller's
// decision.
package validate

import (
	"strings"
	"unicode/utf8"

	"github.com/dorjee-dev/outliner/core/span"
)

// terminators maps a language tag to the set of acceptable
// end-of-content marks. Languages without an entry always pass.
// The table is fixed at startup but extensible via Register.
var terminators = map[string][]string{
	// Tibetan and Dzongkha end on a shad.
	"bo": {"།", "༎", "༑", "༔"},
	"dz": {"།", "༎", "༑", "༔"},

	// Latin-script languages.
	"en": {".", "!", "?", ";", ":"},
	"fr": {".", "!", "?", ";", ":"},
	"de": {".", "!", "?", ";", ":"},
	"es": {".", "!", "?", ";", ":"},
	"it": {".", "!", "?", ";", ":"},
	"pt": {".", "!", "?", ";", ":"},

	// CJK full-width marks.
	"zh": {"。", "！", "？", "；", "："},
	"ja": {"。", "！", "？"},
	"ko": {".", "!", "?"},
}

// Register adds or replaces the terminator set for a language tag.
func Register(lang string, marks []string) {
	terminators[normalizeTag(lang)] = marks
}

// Terminators returns the acceptable terminal marks for a language tag,
// or nil when the language is not validated.
func Terminators(lang string) []string {
	return terminators[normalizeTag(lang)]
}

// normalizeTag lowercases a BCP-47 tag and strips region/script subtags,
// so "bo-Tibt" and "en-US" resolve to their base language entries.
func normalizeTag(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}

// EndingResult is the outcome of a terminal punctuation check. On
// failure, Expected carries the terminator set so the caller can explain
// what would have passed.
type EndingResult struct {
	Valid    bool     `json:"valid"`
	Language string   `json:"language"`
	Expected []string `json:"expected,omitempty"`
}

// ValidateEnding checks that content ends with one of the language's
// terminal marks. Trailing whitespace is stripped first. Empty content
// and unvalidated languages always pass.
func ValidateEnding(lang, content string) EndingResult {
	marks := Terminators(lang)
	res := EndingResult{Valid: true, Language: normalizeTag(lang)}
	if marks == nil {
		return res
	}

	trimmed := strings.TrimRightFunc(content, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ' '
	})
	if trimmed == "" {
		return res
	}

	for _, m := range marks {
		if strings.HasSuffix(trimmed, m) {
			return res
		}
	}
	res.Valid = false
	res.Expected = marks
	return res
}

// LimitViolation identifies one over-limit segment by its compact-mode
// span index. Length is in characters (runes), not bytes.
type LimitViolation struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// LimitResult lists every segment exceeding the character limit.
type LimitResult struct {
	InvalidSegments []LimitViolation `json:"invalid_segments"`
	InvalidCount    int              `json:"invalid_count"`
}

// ValidateSegmentLimits derives compact-mode spans from content and flags
// each span whose text exceeds limit characters. It is a pure function of
// content: the caller's segment store is never consulted or mutated. The
// returned indices drive submission gating and UI highlighting alike.
func ValidateSegmentLimits(content string, limit int) LimitResult {
	var res LimitResult
	if limit <= 0 {
		return res
	}
	derived := span.Forward(content, span.ModeCompact)
	for i, sp := range derived.Spans {
		length := utf8.RuneCountInString(sp.Text(derived.Content))
		if length > limit {
			res.InvalidSegments = append(res.InvalidSegments, LimitViolation{Index: i, Length: length})
		}
	}
	res.InvalidCount = len(res.InvalidSegments)
	return res
}
