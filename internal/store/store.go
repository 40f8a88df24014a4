// Package store persists documents, their segment collections, and
// bibliographic annotations in SQLite. The segment collection is the
// in-memory authority; the store writes whole documents transactionally
// and reloads them on open.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dorjee-dev/outliner/core/biblio"
	"github.com/dorjee-dev/outliner/core/errors"
	"github.com/dorjee-dev/outliner/core/segment"
	"github.com/dorjee-dev/outliner/core/span"
	"github.com/dorjee-dev/outliner/core/sqlite"
)

// DocStatus is the workflow state of a stored document.
type DocStatus string

// Document workflow states.
const (
	StatusActive    DocStatus = "active"
	StatusCompleted DocStatus = "completed"
	StatusDeleted   DocStatus = "deleted"
	StatusApproved  DocStatus = "approved"
	StatusRejected  DocStatus = "rejected"
)

// IsValid returns true for a known workflow state.
func (s DocStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusDeleted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Record is a stored document: ownership and workflow metadata wrapped
// around the segment collection.
type Record struct {
	Doc       *segment.Document `json:"document"`
	Filename  string            `json:"filename"`
	UserID    string            `json:"user_id"`
	Status    DocStatus         `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Summary is one row of a document listing, with review counts
// aggregated in SQL.
type Summary struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	UserID         string    `json:"user_id"`
	Status         DocStatus `json:"status"`
	SegmentCount   int       `json:"segment_count"`
	CheckedCount   int       `json:"checked_count"`
	UncheckedCount int       `json:"unchecked_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store wraps a SQLite database holding documents, segments, and
// annotations.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	filename      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	content       TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	idx          INTEGER NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	title_ref    TEXT NOT NULL DEFAULT '',
	author_ref   TEXT NOT NULL DEFAULT '',
	parent_id    TEXT NOT NULL DEFAULT '',
	attached     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'unchecked',
	comments     TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_document ON segments(document_id, idx);

CREATE TABLE IF NOT EXISTS annotations (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	type         TEXT NOT NULL,
	text         TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_document ON annotations(document_id);
`

// New wraps an open database and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "initializing schema")
	}
	return &Store{db: db}, nil
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateDocument derives the initial segmentation for content and stores
// the new document as active.
func (s *Store) CreateDocument(ctx context.Context, filename, userID, content string) (*Record, error) {
	if filename == "" {
		return nil, errors.NewValidation("filename", "must not be empty")
	}
	rec := &Record{
		Doc:       segment.NewDocument(content),
		Filename:  filename,
		UserID:    userID,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) insert(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, filename, user_id, status, content, content_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Doc.ID, rec.Filename, rec.UserID, string(rec.Status),
		rec.Doc.Content, rec.Doc.ContentHash,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "inserting document")
	}
	if err := writeSegments(ctx, tx, rec.Doc); err != nil {
		return err
	}
	return tx.Commit()
}

// writeSegments replaces the segment rows for a document inside tx. The
// whole collection is rewritten on every save since mutations are
// document-scoped and atomic.
func writeSegments(ctx context.Context, tx *sql.Tx, doc *segment.Document) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE document_id = ?`, doc.ID); err != nil {
		return errors.Wrap(err, "clearing segments")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segments (id, document_id, start_offset, end_offset, idx, title, author, title_ref, author_ref,
		 parent_id, attached, status, comments, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing segment insert")
	}
	defer stmt.Close()

	for _, seg := range doc.Segments {
		comments, err := json.Marshal(seg.Comments)
		if err != nil {
			return errors.Wrap(err, "encoding comments")
		}
		attached := 0
		if seg.Attached {
			attached = 1
		}
		_, err = stmt.ExecContext(ctx, seg.ID, doc.ID,
			seg.Span.Start, seg.Span.End, seg.Index,
			seg.Title, seg.Author, seg.TitleRef, seg.AuthorRef,
			seg.ParentID, attached, string(seg.Status), string(comments),
			seg.CreatedAt.Format(time.RFC3339Nano), seg.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return errors.Wrapf(err, "inserting segment %s", seg.ID)
		}
	}
	return nil
}

// SaveDocument writes the current in-memory state of a record back to the
// database, replacing its segment rows.
func (s *Store) SaveDocument(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	rec.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET filename = ?, user_id = ?, status = ?, content = ?, content_hash = ?, updated_at = ?
		 WHERE id = ?`,
		rec.Filename, rec.UserID, string(rec.Status),
		rec.Doc.Content, rec.Doc.ContentHash,
		rec.UpdatedAt.Format(time.RFC3339Nano), rec.Doc.ID)
	if err != nil {
		return errors.Wrap(err, "updating document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("document", rec.Doc.ID)
	}
	if err := writeSegments(ctx, tx, rec.Doc); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportDocument inserts a fully reconstructed record, keeping its
// document ID, segments, and timestamps. Used when loading bundles.
func (s *Store) ImportDocument(ctx context.Context, rec *Record) error {
	if rec.Doc == nil || rec.Doc.ID == "" {
		return errors.NewValidation("document", "missing document id")
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE id = ?`, rec.Doc.ID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking document id")
	}
	if exists > 0 {
		return errors.Wrapf(errors.ErrAlreadyExists, "document %s", rec.Doc.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return s.insert(ctx, rec)
}

// GetDocument loads a document and its segments by id. Soft-deleted
// documents are returned; callers decide whether to surface them.
func (s *Store) GetDocument(ctx context.Context, id string) (*Record, error) {
	rec := &Record{Doc: &segment.Document{}}
	var status, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, user_id, status, content, content_hash, created_at, updated_at
		 FROM documents WHERE id = ?`, id).
		Scan(&rec.Doc.ID, &rec.Filename, &rec.UserID, &status,
			&rec.Doc.Content, &rec.Doc.ContentHash, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading document")
	}
	rec.Status = DocStatus(status)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	if err := s.loadSegments(ctx, rec.Doc); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) loadSegments(ctx context.Context, doc *segment.Document) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_offset, end_offset, idx, title, author, title_ref, author_ref,
		 parent_id, attached, status, comments, created_at, updated_at
		 FROM segments WHERE document_id = ? ORDER BY idx`, doc.ID)
	if err != nil {
		return errors.Wrap(err, "loading segments")
	}
	defer rows.Close()

	for rows.Next() {
		seg := &segment.Segment{}
		var attached int
		var status, comments, createdAt, updatedAt string
		err := rows.Scan(&seg.ID, &seg.Span.Start, &seg.Span.End, &seg.Index,
			&seg.Title, &seg.Author, &seg.TitleRef, &seg.AuthorRef,
			&seg.ParentID, &attached, &status, &comments, &createdAt, &updatedAt)
		if err != nil {
			return errors.Wrap(err, "scanning segment")
		}
		seg.Attached = attached != 0
		seg.Status = segment.Status(status)
		if err := json.Unmarshal([]byte(comments), &seg.Comments); err != nil {
			return errors.Wrapf(err, "decoding comments for segment %s", seg.ID)
		}
		seg.CreatedAt = parseTime(createdAt)
		seg.UpdatedAt = parseTime(updatedAt)
		doc.Segments = append(doc.Segments, seg)
	}
	return rows.Err()
}

// ListDocuments returns summaries for a user's documents, newest first.
// Soft-deleted documents are excluded unless includeDeleted is set. An
// empty userID lists all users' documents.
func (s *Store) ListDocuments(ctx context.Context, userID string, includeDeleted bool) ([]Summary, error) {
	query := `SELECT d.id, d.filename, d.user_id, d.status, d.created_at, d.updated_at,
		COUNT(s.id),
		COALESCE(SUM(CASE WHEN s.status = 'checked' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN s.status = 'unchecked' THEN 1 ELSE 0 END), 0)
		FROM documents d LEFT JOIN segments s ON s.document_id = d.id
		WHERE 1=1`
	var args []any
	if userID != "" {
		query += ` AND d.user_id = ?`
		args = append(args, userID)
	}
	if !includeDeleted {
		query += ` AND d.status != 'deleted'`
	}
	query += ` GROUP BY d.id ORDER BY d.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing documents")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var status, createdAt, updatedAt string
		err := rows.Scan(&sum.ID, &sum.Filename, &sum.UserID, &status, &createdAt, &updatedAt,
			&sum.SegmentCount, &sum.CheckedCount, &sum.UncheckedCount)
		if err != nil {
			return nil, errors.Wrap(err, "scanning summary")
		}
		sum.Status = DocStatus(status)
		sum.CreatedAt = parseTime(createdAt)
		sum.UpdatedAt = parseTime(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SetDocumentStatus moves a document to a new workflow state.
func (s *Store) SetDocumentStatus(ctx context.Context, id string, status DocStatus) error {
	if !status.IsValid() {
		return errors.NewValidation("status",
			fmt.Sprintf("unknown document status %q", status))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return errors.Wrap(err, "updating status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("document", id)
	}
	return nil
}

// SoftDelete marks a document deleted without dropping its rows.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	return s.SetDocumentStatus(ctx, id, StatusDeleted)
}

// Restore returns a soft-deleted document to the active state. Only the
// owning user may restore.
func (s *Store) Restore(ctx context.Context, id, userID string) error {
	var owner, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, status FROM documents WHERE id = ?`, id).Scan(&owner, &status)
	if err == sql.ErrNoRows {
		return errors.NewNotFound("document", id)
	}
	if err != nil {
		return errors.Wrap(err, "loading document")
	}
	if owner != userID {
		return errors.NewPermission("restore", "document "+id, "owned by another user")
	}
	if DocStatus(status) != StatusDeleted {
		return errors.NewValidation("status", "document is not deleted")
	}
	return s.SetDocumentStatus(ctx, id, StatusActive)
}

// HardDelete permanently removes a document and its dependent rows.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	// Explicit deletes since foreign keys may be off in SQLite.
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE document_id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting segments")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE document_id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting annotations")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("document", id)
	}
	return tx.Commit()
}

// SaveAnnotations replaces the stored annotation set for a document.
func (s *Store) SaveAnnotations(ctx context.Context, documentID string, anns []*biblio.Annotation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE document_id = ?`, documentID); err != nil {
		return errors.Wrap(err, "clearing annotations")
	}
	for _, a := range anns {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO annotations (id, document_id, start_offset, end_offset, type, text, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, documentID, a.Span.Start, a.Span.End, string(a.Type), a.Text,
			a.Timestamp.Format(time.RFC3339Nano))
		if err != nil {
			return errors.Wrapf(err, "inserting annotation %s", a.ID)
		}
	}
	return tx.Commit()
}

// LoadAnnotations returns the stored annotation set for a document in
// insertion order.
func (s *Store) LoadAnnotations(ctx context.Context, documentID string) ([]*biblio.Annotation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_offset, end_offset, type, text, created_at
		 FROM annotations WHERE document_id = ? ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, errors.Wrap(err, "loading annotations")
	}
	defer rows.Close()

	var out []*biblio.Annotation
	for rows.Next() {
		a := &biblio.Annotation{Span: span.Span{}}
		var typ, createdAt string
		if err := rows.Scan(&a.ID, &a.Span.Start, &a.Span.End, &typ, &a.Text, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning annotation")
		}
		a.Type = biblio.Type(typ)
		a.Timestamp = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
