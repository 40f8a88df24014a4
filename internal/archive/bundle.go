package archive

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/dorjee-dev/outliner/core/biblio"
	"github.com/dorjee-dev/outliner/core/segment"
	"github.com/dorjee-dev/outliner/internal/store"
)

// Bundle entry names.
const (
	ManifestName    = "manifest.json"
	ContentName     = "content.txt"
	SegmentsName    = "segments.json"
	AnnotationsName = "annotations.json"
)

// ManifestVersion is the current bundle manifest format version.
const ManifestVersion = "1"

// Manifest describes a bundled document.
type Manifest struct {
	Version     string `json:"version"`
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	ContentHash string `json:"content_hash"`
	ExportedAt  string `json:"exported_at"`
}

// Export writes a document and its annotations to a .tar.xz bundle at
// dstPath.
func Export(rec *store.Record, anns []*biblio.Annotation, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	manifest := Manifest{
		Version:     ManifestVersion,
		DocumentID:  rec.Doc.ID,
		Filename:    rec.Filename,
		UserID:      rec.UserID,
		Status:      string(rec.Status),
		ContentHash: rec.Doc.ContentHash,
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	segmentsJSON, err := json.MarshalIndent(rec.Doc.Segments, "", "  ")
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	annotationsJSON, err := json.MarshalIndent(anns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode annotations: %w", err)
	}

	outFile, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create bundle file: %w", err)
	}
	defer outFile.Close()

	xzw, err := xz.NewWriter(outFile)
	if err != nil {
		return fmt.Errorf("xz writer: %w", err)
	}
	tw := tar.NewWriter(xzw)

	now := time.Now()
	entries := []struct {
		name string
		data []byte
	}{
		{ManifestName, manifestJSON},
		{ContentName, []byte(rec.Doc.Content)},
		{SegmentsName, segmentsJSON},
		{AnnotationsName, annotationsJSON},
	}
	for _, e := range entries {
		header := &tar.Header{
			Name:    e.name,
			Mode:    0644,
			Size:    int64(len(e.data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header %s: %w", e.name, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("write entry %s: %w", e.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := xzw.Close(); err != nil {
		return fmt.Errorf("close xz: %w", err)
	}
	return nil
}

// Import reads a bundle and reconstructs the document record and its
// annotations. The record is not persisted; that is the caller's call.
func Import(path string) (*store.Record, []*biblio.Annotation, error) {
	manifestData, err := ReadFile(path, ManifestName)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, nil, fmt.Errorf("unsupported bundle version %q", manifest.Version)
	}

	content, err := ReadFile(path, ContentName)
	if err != nil {
		return nil, nil, fmt.Errorf("read content: %w", err)
	}
	if got := segment.HashContent(string(content)); got != manifest.ContentHash {
		return nil, nil, fmt.Errorf("content hash mismatch: bundle says %s, content hashes to %s",
			manifest.ContentHash, got)
	}

	segmentsData, err := ReadFile(path, SegmentsName)
	if err != nil {
		return nil, nil, fmt.Errorf("read segments: %w", err)
	}
	var segments []*segment.Segment
	if err := json.Unmarshal(segmentsData, &segments); err != nil {
		return nil, nil, fmt.Errorf("decode segments: %w", err)
	}

	var anns []*biblio.Annotation
	if annotationsData, err := ReadFile(path, AnnotationsName); err == nil {
		if err := json.Unmarshal(bytes.TrimSpace(annotationsData), &anns); err != nil {
			return nil, nil, fmt.Errorf("decode annotations: %w", err)
		}
	}

	rec := &store.Record{
		Doc: &segment.Document{
			ID:          manifest.DocumentID,
			Content:     string(content),
			ContentHash: manifest.ContentHash,
			Segments:    segments,
		},
		Filename: manifest.Filename,
		UserID:   manifest.UserID,
		Status:   store.DocStatus(manifest.Status),
	}
	return rec, anns, nil
}
