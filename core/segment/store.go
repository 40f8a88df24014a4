package segment

// store.go - Mutation operations over a Document's segment collection.
// Every operation follows the same shape: mutate a deep copy, run the
// invariant check on the end state, and install the copy only on success.

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dorjee-dev/outliner/core/errors"
	"github.com/dorjee-dev/outliner/core/span"
)

// SegmentCreate describes a new segment for point or bulk creation.
// The span is taken as given, not recomputed.
type SegmentCreate struct {
	Span      span.Span `json:"span"`
	Index     *int      `json:"index,omitempty"` // appended after the current maximum when nil
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	TitleRef  string    `json:"title_ref,omitempty"`
	AuthorRef string    `json:"author_ref,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	Attached  bool      `json:"attached,omitempty"`
}

// SegmentUpdate describes a partial update. Pointer fields distinguish
// "not provided" (nil) from "set to empty".
type SegmentUpdate struct {
	ID        string     `json:"id"`
	Span      *span.Span `json:"span,omitempty"`
	Index     *int       `json:"index,omitempty"`
	Title     *string    `json:"title,omitempty"`
	Author    *string    `json:"author,omitempty"`
	TitleRef  *string    `json:"title_ref,omitempty"`
	AuthorRef *string    `json:"author_ref,omitempty"`
	ParentID  *string    `json:"parent_id,omitempty"`
	Attached  *bool      `json:"attached,omitempty"`
	Status    *Status    `json:"status,omitempty"`
}

// BulkRequest batches create, update, and delete operations applied
// atomically against one document: deletions first, then updates, then
// creations. The invariant check runs once on the end state.
type BulkRequest struct {
	Create []SegmentCreate `json:"create,omitempty"`
	Update []SegmentUpdate `json:"update,omitempty"`
	Delete []string        `json:"delete,omitempty"`
}

// Split replaces one segment with two whose spans are contiguous and
// together equal the original exactly. pos is a byte offset within the
// segment's span: 0 < pos < width. Title, author, and comments are not
// inherited; those are explicit editor decisions on the new segments.
func (d *Document) Split(segmentID string, pos int) (*Segment, *Segment, error) {
	working := d.clone()
	seg, ok := working.Segment(segmentID)
	if !ok {
		return nil, nil, errors.NewNotFound("segment", segmentID)
	}
	if pos <= 0 || pos >= seg.Span.Width() {
		return nil, nil, errors.NewRange("split", pos, 1, seg.Span.Width())
	}

	wasComplete := d.Complete()
	now := time.Now().UTC()
	cut := seg.Span.Start + pos

	first := &Segment{
		ID:        uuid.NewString(),
		Span:      span.Span{Start: seg.Span.Start, End: cut},
		Index:     seg.Index,
		ParentID:  seg.ParentID,
		Attached:  seg.Attached,
		Status:    StatusUnchecked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	second := &Segment{
		ID:        uuid.NewString(),
		Span:      span.Span{Start: cut, End: seg.Span.End},
		Index:     seg.Index + 1,
		ParentID:  seg.ParentID,
		Attached:  seg.Attached,
		Status:    StatusUnchecked,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, s := range working.Segments {
		if s.Index > seg.Index {
			s.Index++
		}
	}
	replaced := make([]*Segment, 0, len(working.Segments)+1)
	for _, s := range working.Segments {
		if s.ID == segmentID {
			replaced = append(replaced, first, second)
			continue
		}
		replaced = append(replaced, s)
	}
	working.Segments = replaced
	working.compactIndices()

	if err := working.checkInvariants(wasComplete); err != nil {
		return nil, nil, err
	}
	*d = *working
	return first, second, nil
}

// Merge combines two or more segments into one. The segments need not be
// contiguous: the merged span always normalizes to
// [min(starts), max(ends)), absorbing any content lying between the
// sources. Metadata takes the first non-empty value in the given id
// order; comments concatenate in the same order. The survivor keeps the
// lowest original index and the merged-away segments are destroyed.
func (d *Document) Merge(segmentIDs []string) (*Segment, error) {
	// Duplicate ids collapse to their first occurrence.
	seen := make(map[string]bool, len(segmentIDs))
	ids := make([]string, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return nil, errors.NewRange("merge", len(ids), 2, len(d.Segments)+1)
	}

	working := d.clone()
	sources := make([]*Segment, 0, len(ids))
	for _, id := range ids {
		seg, ok := working.Segment(id)
		if !ok {
			return nil, errors.NewNotFound("segment", id)
		}
		sources = append(sources, seg)
	}

	wasComplete := d.Complete()

	merged := span.Span{Start: sources[0].Span.Start, End: sources[0].Span.End}
	survivor := sources[0]
	for _, s := range sources[1:] {
		if s.Span.Start < merged.Start {
			merged.Start = s.Span.Start
		}
		if s.Span.End > merged.End {
			merged.End = s.Span.End
		}
		if s.Index < survivor.Index {
			survivor = s
		}
	}

	firstNonEmpty := func(get func(*Segment) string) string {
		for _, s := range sources {
			if v := get(s); v != "" {
				return v
			}
		}
		return ""
	}
	title := firstNonEmpty(func(s *Segment) string { return s.Title })
	author := firstNonEmpty(func(s *Segment) string { return s.Author })
	titleRef := firstNonEmpty(func(s *Segment) string { return s.TitleRef })
	authorRef := firstNonEmpty(func(s *Segment) string { return s.AuthorRef })
	parentID := firstNonEmpty(func(s *Segment) string { return s.ParentID })

	var comments []Comment
	for _, s := range sources {
		comments = append(comments, s.Comments...)
	}

	survivor.Span = merged
	survivor.Title = title
	survivor.Author = author
	survivor.TitleRef = titleRef
	survivor.AuthorRef = authorRef
	survivor.ParentID = parentID
	survivor.Comments = comments
	survivor.UpdatedAt = time.Now().UTC()

	kept := working.Segments[:0]
	for _, s := range working.Segments {
		if s.ID != survivor.ID && seen[s.ID] {
			continue
		}
		// Parent references to merged-away segments collapse onto the survivor.
		if s.ParentID != "" && seen[s.ParentID] && s.ParentID != survivor.ID {
			s.ParentID = survivor.ID
		}
		kept = append(kept, s)
	}
	working.Segments = kept
	working.compactIndices()

	if err := working.checkInvariants(wasComplete); err != nil {
		return nil, err
	}
	*d = *working
	return survivor, nil
}

// Bulk applies a batch atomically: deletions, then updates, then
// creations. The overlap and index invariants are enforced on the end
// state only; a violation rejects the whole batch and retains the prior
// state. Completeness is not required, so a batch may leave an
// in-progress segmentation with an explicit tail.
func (d *Document) Bulk(req BulkRequest) ([]*Segment, error) {
	working := d.clone()

	if len(req.Delete) > 0 {
		toDelete := make(map[string]bool, len(req.Delete))
		for _, id := range req.Delete {
			if _, ok := working.Segment(id); !ok {
				return nil, errors.NewNotFound("segment", id)
			}
			toDelete[id] = true
		}
		kept := working.Segments[:0]
		for _, s := range working.Segments {
			if toDelete[s.ID] {
				continue
			}
			if s.ParentID != "" && toDelete[s.ParentID] {
				s.ParentID = ""
			}
			kept = append(kept, s)
		}
		working.Segments = kept
	}

	now := time.Now().UTC()
	var touched []*Segment

	for _, u := range req.Update {
		seg, ok := working.Segment(u.ID)
		if !ok {
			return nil, errors.NewNotFound("segment", u.ID)
		}
		if u.Span != nil {
			seg.Span = *u.Span
		}
		if u.Index != nil {
			seg.Index = *u.Index
		}
		if u.Title != nil {
			seg.Title = *u.Title
		}
		if u.Author != nil {
			seg.Author = *u.Author
		}
		if u.TitleRef != nil {
			seg.TitleRef = *u.TitleRef
		}
		if u.AuthorRef != nil {
			seg.AuthorRef = *u.AuthorRef
		}
		if u.ParentID != nil {
			seg.ParentID = *u.ParentID
		}
		if u.Attached != nil {
			seg.Attached = *u.Attached
		}
		if u.Status != nil {
			if !u.Status.IsValid() {
				return nil, errors.NewValidation("status",
					fmt.Sprintf("must be %q or %q", StatusChecked, StatusUnchecked))
			}
			seg.Status = *u.Status
		}
		seg.UpdatedAt = now
		touched = append(touched, seg)
	}

	if len(req.Create) > 0 {
		maxIndex := -1
		for _, s := range working.Segments {
			if s.Index > maxIndex {
				maxIndex = s.Index
			}
		}
		for i, c := range req.Create {
			index := maxIndex + i + 1
			if c.Index != nil {
				index = *c.Index
			}
			seg := &Segment{
				ID:        uuid.NewString(),
				Span:      c.Span,
				Index:     index,
				Title:     c.Title,
				Author:    c.Author,
				TitleRef:  c.TitleRef,
				AuthorRef: c.AuthorRef,
				ParentID:  c.ParentID,
				Attached:  c.Attached,
				Status:    StatusUnchecked,
				CreatedAt: now,
				UpdatedAt: now,
			}
			working.Segments = append(working.Segments, seg)
			touched = append(touched, seg)
		}
	}

	if err := working.checkInvariants(false); err != nil {
		return nil, err
	}
	working.compactIndices()
	*d = *working
	return touched, nil
}

// Create adds a single segment. The span is taken as given.
func (d *Document) Create(c SegmentCreate) (*Segment, error) {
	created, err := d.Bulk(BulkRequest{Create: []SegmentCreate{c}})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// Update applies a partial update to a single segment.
func (d *Document) Update(u SegmentUpdate) (*Segment, error) {
	updated, err := d.Bulk(BulkRequest{Update: []SegmentUpdate{u}})
	if err != nil {
		return nil, err
	}
	return updated[0], nil
}

// Delete removes a single segment and compacts the remaining indices.
func (d *Document) Delete(segmentID string) error {
	_, err := d.Bulk(BulkRequest{Delete: []string{segmentID}})
	return err
}

// SetStatus toggles a segment's review status.
func (d *Document) SetStatus(segmentID string, status Status) error {
	if !status.IsValid() {
		return errors.NewValidation("status",
			fmt.Sprintf("must be %q or %q", StatusChecked, StatusUnchecked))
	}
	seg, ok := d.Segment(segmentID)
	if !ok {
		return errors.NewNotFound("segment", segmentID)
	}
	seg.Status = status
	seg.UpdatedAt = time.Now().UTC()
	return nil
}

// AddComment appends a comment to a segment's thread.
func (d *Document) AddComment(segmentID, content, username string) ([]Comment, error) {
	seg, ok := d.Segment(segmentID)
	if !ok {
		return nil, errors.NewNotFound("segment", segmentID)
	}
	seg.Comments = append(seg.Comments, Comment{
		Content:   content,
		Username:  username,
		Timestamp: time.Now().UTC(),
	})
	seg.UpdatedAt = time.Now().UTC()
	return seg.Comments, nil
}

// UpdateComment replaces the content of the comment at index i.
func (d *Document) UpdateComment(segmentID string, i int, content string) ([]Comment, error) {
	seg, ok := d.Segment(segmentID)
	if !ok {
		return nil, errors.NewNotFound("segment", segmentID)
	}
	if i < 0 || i >= len(seg.Comments) {
		return nil, errors.NewNotFound("comment", fmt.Sprintf("%s[%d]", segmentID, i))
	}
	seg.Comments[i].Content = content
	seg.Comments[i].Timestamp = time.Now().UTC()
	seg.UpdatedAt = time.Now().UTC()
	return seg.Comments, nil
}

// DeleteComment removes the comment at index i.
func (d *Document) DeleteComment(segmentID string, i int) ([]Comment, error) {
	seg, ok := d.Segment(segmentID)
	if !ok {
		return nil, errors.NewNotFound("segment", segmentID)
	}
	if i < 0 || i >= len(seg.Comments) {
		return nil, errors.NewNotFound("comment", fmt.Sprintf("%s[%d]", segmentID, i))
	}
	seg.Comments = append(seg.Comments[:i], seg.Comments[i+1:]...)
	seg.UpdatedAt = time.Now().UTC()
	return seg.Comments, nil
}

// ReplaceContent swaps in new canonical content and re-derives the
// segmentation from scratch. Segments and any overlaid annotations are
// keyed to a content revision; when the content changes underneath them
// they are invalidated rather than migrated.
func (d *Document) ReplaceContent(content string) {
	fresh := NewDocument(content)
	d.Content = fresh.Content
	d.ContentHash = fresh.ContentHash
	d.Segments = fresh.Segments
}

// Reset drops all segments, leaving the content in place with an
// explicit whole-content tail.
func (d *Document) Reset() {
	d.Segments = nil
}
