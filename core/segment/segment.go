// Package segment holds the authoritative segment collection for one
// document: an ordered set of non-overlapping offset spans over a single
// newline-free canonical content string, plus the catalog metadata
// (title, author, references, review status, comments) attached to each
// span.
//
// All mutations are synchronous, in-memory, and atomic: an operation
// either installs a fully validated new state or leaves the document
// untouched and returns an error from core/errors describing the
// violated invariant.
package segment

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/dorjee-dev/outliner/core/errors"
	"github.com/dorjee-dev/outliner/core/span"
)

// Status is the review state of a segment. It is user-togglable in both
// directions; there are no forced transitions.
type Status string

// Status constants.
const (
	StatusUnchecked Status = "unchecked"
	StatusChecked   Status = "checked"
)

// IsValid returns true if the status is a known review state.
func (s Status) IsValid() bool {
	return s == StatusChecked || s == StatusUnchecked
}

// Comment is one entry in a segment's comment thread. Comment identity is
// positional: the index into the segment's Comments slice.
type Comment struct {
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// Segment is one reviewable unit of a document: a span plus annotation
// metadata. Segments are owned by their document and are created fully
// formed and destroyed atomically.
type Segment struct {
	ID string `json:"id"`

	// Span addresses the segment's text within the document content.
	Span span.Span `json:"span"`

	// Index is the presentation order within the document. Indices are
	// kept compact: 0..n-1 with no gaps.
	Index int `json:"index"`

	// Catalog metadata. TitleRef and AuthorRef point into an external
	// bibliographic authority and are opaque to the core.
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	TitleRef  string `json:"title_ref,omitempty"`
	AuthorRef string `json:"author_ref,omitempty"`

	// ParentID is a non-owning reference to another segment of the same
	// document, expressing hierarchical grouping. Empty when absent.
	ParentID string `json:"parent_id,omitempty"`

	// Attached marks a sub-segment attached to a preceding titled segment.
	Attached bool `json:"attached,omitempty"`

	Status   Status    `json:"status"`
	Comments []Comment `json:"comments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Annotated returns true if the segment carries a title or author.
func (s *Segment) Annotated() bool {
	return s.Title != "" || s.Author != ""
}

// Text extracts the segment's substring from the document content.
func (s *Segment) Text(content string) string {
	return s.Span.Text(content)
}

// clone returns a deep copy of the segment.
func (s *Segment) clone() *Segment {
	c := *s
	if len(s.Comments) > 0 {
		c.Comments = make([]Comment, len(s.Comments))
		copy(c.Comments, s.Comments)
	}
	return &c
}

// Document is the mutable segment collection for one open document,
// together with its canonical content. Content contains no line breaks
// and is replaced wholesale on every edit, never patched in place.
type Document struct {
	ID string `json:"id"`

	// Content is the canonical newline-free string all spans address.
	Content string `json:"content"`

	// ContentHash is the BLAKE3 fingerprint of Content. Derived data
	// (persisted segments, annotations) records the hash it was computed
	// against so stale spans can be detected after a content edit.
	ContentHash string `json:"content_hash"`

	// Segments is ordered by Index.
	Segments []*Segment `json:"segments"`
}

// HashContent returns the BLAKE3 fingerprint of canonical content.
func HashContent(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewDocument derives the initial segmentation for content: compact-mode
// span derivation, one unchecked segment per resulting span with
// sequential indices. The input may still contain line breaks; the
// document stores the cleaned content.
func NewDocument(content string) *Document {
	res := span.Forward(content, span.ModeCompact)
	now := time.Now().UTC()

	d := &Document{
		ID:          uuid.NewString(),
		Content:     res.Content,
		ContentHash: HashContent(res.Content),
	}
	for i, sp := range res.Spans {
		d.Segments = append(d.Segments, &Segment{
			ID:        uuid.NewString(),
			Span:      sp,
			Index:     i,
			Status:    StatusUnchecked,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return d
}

// Segment returns the segment with the given id.
func (d *Document) Segment(id string) (*Segment, bool) {
	for _, s := range d.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Texts returns the segment texts in index order.
func (d *Document) Texts() []string {
	texts := make([]string, len(d.Segments))
	for i, s := range d.Segments {
		texts[i] = s.Text(d.Content)
	}
	return texts
}

// EditableView reconstructs the line-delimited string an editing surface
// works on: one line per segment, in index order.
func (d *Document) EditableView() string {
	spans := make([]span.Span, len(d.Segments))
	for i, s := range d.Segments {
		spans[i] = s.Span
	}
	return span.Reverse(d.Content, spans)
}

// Complete reports whether segmentation covers the canonical content
// exactly: spans concatenated in index order reproduce Content with no
// gaps, overlaps, or reordering.
func (d *Document) Complete() bool {
	spans := make([]span.Span, len(d.Segments))
	for i, s := range d.Segments {
		spans[i] = s.Span
	}
	return span.Contiguous(spans, len(d.Content))
}

// Tail returns the span of content past the end of the last segment.
// A zero-width tail means the segmentation reaches the end of content;
// for an empty segment list the tail is the whole content. This is how
// in-progress segmentation stays explicitly representable.
func (d *Document) Tail() span.Span {
	end := 0
	for _, s := range d.Segments {
		if s.Span.End > end {
			end = s.Span.End
		}
	}
	return span.Span{Start: end, End: len(d.Content)}
}

// Progress summarizes review state across the collection.
type Progress struct {
	Total      int     `json:"total"`
	Annotated  int     `json:"annotated"`
	Checked    int     `json:"checked"`
	Unchecked  int     `json:"unchecked"`
	Percentage float64 `json:"percentage"`
}

// Progress recomputes review statistics from the current collection.
func (d *Document) Progress() Progress {
	p := Progress{Total: len(d.Segments)}
	for _, s := range d.Segments {
		if s.Annotated() {
			p.Annotated++
		}
		if s.Status == StatusChecked {
			p.Checked++
		} else {
			p.Unchecked++
		}
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Annotated) / float64(p.Total) * 100
	}
	return p
}

// clone returns a deep copy of the document. Mutations work on a clone
// and install it only after the invariant check passes.
func (d *Document) clone() *Document {
	c := &Document{
		ID:          d.ID,
		Content:     d.Content,
		ContentHash: d.ContentHash,
	}
	if len(d.Segments) > 0 {
		c.Segments = make([]*Segment, len(d.Segments))
		for i, s := range d.Segments {
			c.Segments[i] = s.clone()
		}
	}
	return c
}

// sortByIndex orders the segment slice by Index.
func (d *Document) sortByIndex() {
	sort.SliceStable(d.Segments, func(i, j int) bool {
		return d.Segments[i].Index < d.Segments[j].Index
	})
}

// compactIndices renumbers segments 0..n-1 preserving index order.
func (d *Document) compactIndices() {
	d.sortByIndex()
	for i, s := range d.Segments {
		s.Index = i
	}
}

// checkInvariants validates the end state of a mutation. Overlap, index
// uniqueness, span bounds, and parent references are always enforced;
// completeness only when the operation claims it (requireComplete).
func (d *Document) checkInvariants(requireComplete bool) error {
	byID := make(map[string]*Segment, len(d.Segments))
	seenIndex := make(map[int]string, len(d.Segments))
	for _, s := range d.Segments {
		if !s.Span.Valid(len(d.Content)) {
			return errors.NewInvariant("bounds", []string{s.ID},
				fmt.Sprintf("span [%d,%d) outside content of length %d", s.Span.Start, s.Span.End, len(d.Content)))
		}
		if prev, dup := seenIndex[s.Index]; dup {
			return errors.NewInvariant("index-order", []string{prev, s.ID},
				fmt.Sprintf("duplicate index %d", s.Index))
		}
		seenIndex[s.Index] = s.ID
		byID[s.ID] = s
	}

	for _, s := range d.Segments {
		if s.ParentID == "" {
			continue
		}
		if s.ParentID == s.ID {
			return errors.NewInvariant("parent-ref", []string{s.ID}, "segment references itself as parent")
		}
		if _, ok := byID[s.ParentID]; !ok {
			return errors.NewInvariant("parent-ref", []string{s.ID},
				fmt.Sprintf("parent %s is not a segment of this document", s.ParentID))
		}
	}

	// Pairwise overlap, checked in span order.
	ordered := make([]*Segment, len(d.Segments))
	copy(ordered, d.Segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Span.Start < ordered[j].Span.Start
	})
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.Span.Start < prev.Span.End && !cur.Span.IsZero() && !prev.Span.IsZero() {
			return errors.NewInvariant("overlap", []string{prev.ID, cur.ID},
				fmt.Sprintf("[%d,%d) overlaps [%d,%d)", prev.Span.Start, prev.Span.End, cur.Span.Start, cur.Span.End))
		}
	}

	if requireComplete && !d.Complete() {
		ids := make([]string, len(d.Segments))
		spans := ""
		for i, s := range d.Segments {
			ids[i] = s.ID
			spans += fmt.Sprintf("[%d,%d)", s.Span.Start, s.Span.End)
		}
		return errors.NewInvariant("completeness", ids,
			fmt.Sprintf("spans %s do not tile content of length %d", spans, len(d.Content)))
	}
	return nil
}
