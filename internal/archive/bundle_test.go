package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dorjee-dev/outliner/core/biblio"
	"github.com/dorjee-dev/outliner/core/segment"
	"github.com/dorjee-dev/outliner/core/span"
	"github.com/dorjee-dev/outliner/internal/store"
)

func sampleRecord() *store.Record {
	doc := segment.NewDocument("First line\nSecond line\nThird line")
	return &store.Record{
		Doc:      doc,
		Filename: "work.txt",
		UserID:   "tenzin",
		Status:   store.StatusActive,
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	rec := sampleRecord()
	title := "Opening Section"
	if _, err := rec.Doc.Update(segment.SegmentUpdate{ID: rec.Doc.Segments[0].ID, Title: &title}); err != nil {
		t.Fatal(err)
	}

	tracker := biblio.NewTracker(rec.Doc.Content)
	if _, err := tracker.Add(span.Span{Start: 0, End: 10}, biblio.TypeTitle, ""); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "work.tar.xz")
	if err := Export(rec, tracker.Annotations(), path); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got, anns, err := Import(path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got.Doc.ID != rec.Doc.ID {
		t.Errorf("document id = %q, want %q", got.Doc.ID, rec.Doc.ID)
	}
	if got.Doc.Content != rec.Doc.Content {
		t.Errorf("content mismatch")
	}
	if got.Filename != "work.txt" || got.UserID != "tenzin" || got.Status != store.StatusActive {
		t.Errorf("metadata = %+v", got)
	}
	if len(got.Doc.Segments) != len(rec.Doc.Segments) {
		t.Fatalf("segments = %d, want %d", len(got.Doc.Segments), len(rec.Doc.Segments))
	}
	if got.Doc.Segments[0].Title != "Opening Section" {
		t.Errorf("title = %q", got.Doc.Segments[0].Title)
	}
	if len(anns) != 1 || anns[0].Type != biblio.TypeTitle {
		t.Errorf("annotations = %+v", anns)
	}
	if anns[0].Text != "First line" {
		t.Errorf("annotation text = %q", anns[0].Text)
	}
}

func TestImportRejectsHashMismatch(t *testing.T) {
	rec := sampleRecord()
	path := filepath.Join(t.TempDir(), "work.tar.xz")
	if err := Export(rec, nil, path); err != nil {
		t.Fatal(err)
	}

	// Tamper with the recorded hash by re-exporting with a corrupted record.
	rec.Doc.ContentHash = strings.Repeat("0", 64)
	tampered := filepath.Join(t.TempDir(), "tampered.tar.xz")
	if err := Export(rec, nil, tampered); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Import(tampered); err == nil {
		t.Error("expected hash mismatch error")
	}
}

func TestReadFileMissing(t *testing.T) {
	rec := sampleRecord()
	path := filepath.Join(t.TempDir(), "work.tar.xz")
	if err := Export(rec, nil, path); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path, "no-such-entry"); err == nil {
		t.Error("expected error for missing entry")
	}
}

func TestNewReaderUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.zip")
	if err := os.WriteFile(path, []byte("not an archive"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}
