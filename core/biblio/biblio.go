// Package biblio overlays typed bibliography annotations on a document's
// canonical content. The overlay is independent of segmentation by
// design: marking titles, colophons, or persons can happen before,
// after, or without segmentation, and annotation spans may overlap each
// other and segment boundaries freely.
package biblio

import (
	"time"

	"github.com/google/uuid"

	"github.com/dorjee-dev/outliner/core/errors"
	"github.com/dorjee-dev/outliner/core/span"
)

// Type is the category of a bibliography annotation.
type Type string

// Annotation type constants.
const (
	TypeTitle      Type = "title"
	TypeAltTitle   Type = "alt_title"
	TypeColophon   Type = "colophon"
	TypeIncipit    Type = "incipit"
	TypeAltIncipit Type = "alt_incipit"
	TypePerson     Type = "person"
	TypeAuthor     Type = "author"
	TypeTranslator Type = "translator"
	TypeCustom     Type = "custom"
)

// validTypes is the set of valid annotation types.
var validTypes = map[Type]bool{
	TypeTitle:      true,
	TypeAltTitle:   true,
	TypeColophon:   true,
	TypeIncipit:    true,
	TypeAltIncipit: true,
	TypePerson:     true,
	TypeAuthor:     true,
	TypeTranslator: true,
	TypeCustom:     true,
}

// IsValid returns true if the annotation type is valid.
func (t Type) IsValid() bool {
	return validTypes[t]
}

// Annotation is one typed, span-addressed overlay marking.
type Annotation struct {
	ID        string    `json:"id"`
	Span      span.Span `json:"span"`
	Type      Type      `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker holds the annotation overlay for one document/editing session.
// It depends only on the canonical content string, never on the segment
// store.
type Tracker struct {
	content     string
	annotations []*Annotation
}

// NewTracker creates an empty overlay for the given canonical content.
func NewTracker(content string) *Tracker {
	return &Tracker{content: content}
}

// Content returns the canonical content the overlay addresses.
func (t *Tracker) Content() string {
	return t.content
}

// Add appends a new annotation. Overlaps with existing annotations are
// permitted: a title span and a person span may legitimately coincide.
// When text is empty it is extracted from the content at the span.
func (t *Tracker) Add(sp span.Span, typ Type, text string) (*Annotation, error) {
	if !typ.IsValid() {
		return nil, errors.NewValidation("type", string(typ)+" is not an annotation type")
	}
	if !sp.Valid(len(t.content)) {
		return nil, errors.NewRange("annotate", sp.End, 0, len(t.content)+1)
	}
	if text == "" {
		text = sp.Text(t.content)
	}
	a := &Annotation{
		ID:        uuid.NewString(),
		Span:      sp,
		Type:      typ,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	t.annotations = append(t.annotations, a)
	return a, nil
}

// Remove deletes one annotation by id. Removing an absent id is a no-op,
// not an error: the overlay is edited optimistically from a UI that may
// lag behind.
func (t *Tracker) Remove(id string) {
	for i, a := range t.annotations {
		if a.ID == id {
			t.annotations = append(t.annotations[:i], t.annotations[i+1:]...)
			return
		}
	}
}

// Clear empties the overlay for the current session.
func (t *Tracker) Clear() {
	t.annotations = nil
}

// Len returns the number of annotations.
func (t *Tracker) Len() int {
	return len(t.annotations)
}

// Annotations returns the overlay in insertion order.
func (t *Tracker) Annotations() []*Annotation {
	out := make([]*Annotation, len(t.annotations))
	copy(out, t.annotations)
	return out
}

// ByType returns the annotations of one category, in insertion order.
func (t *Tracker) ByType(typ Type) []*Annotation {
	var out []*Annotation
	for _, a := range t.annotations {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

// GroupByType converts the overlay into a persistence payload grouped by
// category, the shape a bibliography-review collaborator consumes.
func (t *Tracker) GroupByType() map[Type][]*Annotation {
	grouped := make(map[Type][]*Annotation)
	for _, a := range t.annotations {
		grouped[a.Type] = append(grouped[a.Type], a)
	}
	return grouped
}

// Restore rehydrates a persisted overlay, keeping annotation ids and
// timestamps. Annotations whose spans no longer fit the content are
// dropped; they were recorded against a different revision.
func (t *Tracker) Restore(anns []*Annotation) {
	t.annotations = nil
	for _, a := range anns {
		if !a.Type.IsValid() || !a.Span.Valid(len(t.content)) {
			continue
		}
		t.annotations = append(t.annotations, a)
	}
}

// Reset swaps in new canonical content and drops the overlay. Annotations
// are keyed to a content revision; when the content changes underneath
// them they are invalidated, not migrated.
func (t *Tracker) Reset(content string) {
	t.content = content
	t.annotations = nil
}
