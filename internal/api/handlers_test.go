package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dorjee-dev/outliner/core/segment"
	"github.com/dorjee-dev/outliner/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewServer(Config{ExportDir: t.TempDir()}, st)
	go srv.hub.Run()
	return srv, st
}

// do sends a JSON request through the server's mux and decodes the
// response envelope.
func do(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	var envelope APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope from %q: %v", rec.Body.String(), err)
	}
	return rec, envelope
}

func decodeData(t *testing.T, envelope APIResponse, dst interface{}) {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func createTestDocument(t *testing.T, srv *Server, content string) DocumentView {
	t.Helper()
	rec, envelope := do(t, srv, http.MethodPost, "/documents", map[string]string{
		"filename": "work.txt",
		"user_id":  "tenzin",
		"content":  content,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var view DocumentView
	decodeData(t, envelope, &view)
	return view
}

func TestRootAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, envelope := do(t, srv, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !envelope.Success {
		t.Errorf("root: %d %v", rec.Code, envelope)
	}

	rec, envelope = do(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || !envelope.Success {
		t.Errorf("health: %d %v", rec.Code, envelope)
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "First line\nSecond line")

	if len(view.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(view.Segments))
	}
	if !view.Complete {
		t.Error("expected complete initial segmentation")
	}
	if view.Status != "active" {
		t.Errorf("status = %q", view.Status)
	}

	rec, envelope := do(t, srv, http.MethodGet, "/documents/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got DocumentView
	decodeData(t, envelope, &got)
	// Canonical content is newline-free; line structure lives in the spans.
	if got.Content != "First lineSecond line" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestCreateDocumentScrubsControlChars(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "dirty\x00line\nclean line")
	if strings.Contains(view.Content, "\x00") {
		t.Error("control characters not scrubbed on ingest")
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, envelope := do(t, srv, http.MethodGet, "/documents/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != "NOT_FOUND" {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestListDocuments(t *testing.T) {
	srv, _ := newTestServer(t)
	createTestDocument(t, srv, "one\ntwo")

	rec, envelope := do(t, srv, http.MethodGet, "/documents?user=tenzin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var docs []store.Summary
	decodeData(t, envelope, &docs)
	if len(docs) != 1 || docs[0].SegmentCount != 2 {
		t.Errorf("docs = %+v", docs)
	}
	if envelope.Meta == nil || envelope.Meta.Total != 1 {
		t.Errorf("meta = %+v", envelope.Meta)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "text")

	rec, _ := do(t, srv, http.MethodDelete, "/documents/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	// Restore by a different user is forbidden.
	rec, envelope := do(t, srv, http.MethodPost, "/documents/"+view.ID+"/restore",
		map[string]string{"user_id": "pema"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %+v", rec.Code, envelope.Error)
	}

	rec, _ = do(t, srv, http.MethodPost, "/documents/"+view.ID+"/restore",
		map[string]string{"user_id": "tenzin"})
	if rec.Code != http.StatusOK {
		t.Errorf("restore status = %d", rec.Code)
	}
}

func TestDocumentStatusTransitions(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "text")

	rec, _ := do(t, srv, http.MethodPut, "/documents/"+view.ID+"/status",
		map[string]string{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	rec, envelope := do(t, srv, http.MethodPut, "/documents/"+view.ID+"/status",
		map[string]string{"status": "archived"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != "INVALID_INPUT" {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestSplitSegment(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "Alpha beta")
	sid := view.Segments[0].ID

	rec, envelope := do(t, srv, http.MethodPost,
		"/documents/"+view.ID+"/segments/"+sid+"/split",
		map[string]int{"position": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("split status = %d: %+v", rec.Code, envelope.Error)
	}
	var parts []*segment.Segment
	decodeData(t, envelope, &parts)
	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	if parts[0].Span.End != 5 || parts[1].Span.Start != 5 {
		t.Errorf("spans = %+v %+v", parts[0].Span, parts[1].Span)
	}
}

func TestSplitSegmentOutOfRange(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "Alpha")
	sid := view.Segments[0].ID

	rec, envelope := do(t, srv, http.MethodPost,
		"/documents/"+view.ID+"/segments/"+sid+"/split",
		map[string]int{"position": 99})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != "OUT_OF_RANGE" {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestMergeSegments(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "one\ntwo\nthree")

	rec, envelope := do(t, srv, http.MethodPost,
		"/documents/"+view.ID+"/segments/merge",
		map[string][]string{"segment_ids": {view.Segments[0].ID, view.Segments[1].ID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("merge status = %d: %+v", rec.Code, envelope.Error)
	}
	var merged segment.Segment
	decodeData(t, envelope, &merged)
	if merged.Span.Start != 0 || merged.Span.End != view.Segments[1].Span.End {
		t.Errorf("merged span = %+v", merged.Span)
	}

	// The document now has two segments.
	_, envelope = do(t, srv, http.MethodGet, "/documents/"+view.ID, nil)
	var after DocumentView
	decodeData(t, envelope, &after)
	if len(after.Segments) != 2 {
		t.Errorf("segments after merge = %d", len(after.Segments))
	}
}

func TestMergeOverlapRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "one\ntwo\nthree")

	// Merging the outer pair around a still-covered middle must be
	// rejected and leave the document unchanged.
	rec, envelope := do(t, srv, http.MethodPost,
		"/documents/"+view.ID+"/segments/merge",
		map[string][]string{"segment_ids": {view.Segments[0].ID, view.Segments[2].ID}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %+v", rec.Code, envelope.Error)
	}
	if envelope.Error.Code != "INVARIANT_VIOLATION" {
		t.Errorf("error code = %q", envelope.Error.Code)
	}

	_, envelope = do(t, srv, http.MethodGet, "/documents/"+view.ID, nil)
	var after DocumentView
	decodeData(t, envelope, &after)
	if len(after.Segments) != 3 {
		t.Errorf("rejected merge mutated the document: %d segments", len(after.Segments))
	}
}

func TestBulkSegments(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "one\ntwo\nthree")
	title := "Section"

	rec, envelope := do(t, srv, http.MethodPost,
		"/documents/"+view.ID+"/segments/bulk",
		segment.BulkRequest{
			Delete: []string{view.Segments[2].ID},
			Update: []segment.SegmentUpdate{{ID: view.Segments[0].ID, Title: &title}},
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk status = %d: %+v", rec.Code, envelope.Error)
	}

	_, envelope = do(t, srv, http.MethodGet, "/documents/"+view.ID, nil)
	var after DocumentView
	decodeData(t, envelope, &after)
	if len(after.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(after.Segments))
	}
	if after.Segments[0].Title != "Section" {
		t.Errorf("title = %q", after.Segments[0].Title)
	}
	if after.Complete {
		t.Error("document should be incomplete after deleting the final segment")
	}
	if after.Tail.Width() == 0 {
		t.Error("expected a non-empty tail")
	}
}

func TestSegmentStatusAndComments(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "one\ntwo")
	sid := view.Segments[0].ID
	base := "/documents/" + view.ID + "/segments/" + sid

	rec, _ := do(t, srv, http.MethodPut, base+"/status", map[string]string{"status": "checked"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec, envelope := do(t, srv, http.MethodPost, base+"/comments",
		map[string]string{"content": "verify spelling", "username": "tenzin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add comment status = %d", rec.Code)
	}
	var comments []segment.Comment
	decodeData(t, envelope, &comments)
	if len(comments) != 1 || comments[0].Content != "verify spelling" {
		t.Errorf("comments = %+v", comments)
	}

	rec, envelope = do(t, srv, http.MethodPut, base+"/comments/0",
		map[string]string{"content": "spelling fixed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update comment status = %d", rec.Code)
	}
	decodeData(t, envelope, &comments)
	if comments[0].Content != "spelling fixed" {
		t.Errorf("comment = %+v", comments[0])
	}

	// Out-of-range comment index is a 404.
	rec, envelope = do(t, srv, http.MethodDelete, base+"/comments/5", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %+v", rec.Code, envelope.Error)
	}

	rec, _ = do(t, srv, http.MethodDelete, base+"/comments/0", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete comment status = %d", rec.Code)
	}
}

func TestAnnotationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "The Jewel Ornament of Liberation by Gampopa")
	base := "/documents/" + view.ID + "/annotations"

	rec, envelope := do(t, srv, http.MethodPost, base, map[string]interface{}{
		"span": map[string]int{"start": 36, "end": 43},
		"type": "author",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %+v", rec.Code, envelope.Error)
	}
	var ann struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	decodeData(t, envelope, &ann)
	if ann.Text != "Gampopa" {
		t.Errorf("text = %q", ann.Text)
	}

	// Invalid type is a 400.
	rec, envelope = do(t, srv, http.MethodPost, base, map[string]interface{}{
		"span": map[string]int{"start": 0, "end": 3},
		"type": "footnote",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %+v", rec.Code, envelope.Error)
	}

	rec, envelope = do(t, srv, http.MethodGet, base, nil)
	if rec.Code != http.StatusOK || envelope.Meta.Total != 1 {
		t.Errorf("list: %d, total %d", rec.Code, envelope.Meta.Total)
	}

	rec, _ = do(t, srv, http.MethodGet, base+"?grouped=true", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("grouped status = %d", rec.Code)
	}

	// Removing an unknown id is a no-op success.
	rec, _ = do(t, srv, http.MethodDelete, base+"/unknown-id", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("remove unknown status = %d", rec.Code)
	}

	rec, envelope = do(t, srv, http.MethodDelete, base+"/"+ann.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rec.Code)
	}
	var remaining map[string]int
	decodeData(t, envelope, &remaining)
	if remaining["remaining"] != 0 {
		t.Errorf("remaining = %d", remaining["remaining"])
	}
}

func TestReplaceContentInvalidatesAnnotations(t *testing.T) {
	srv, st := newTestServer(t)
	view := createTestDocument(t, srv, "old content here")

	rec, _ := do(t, srv, http.MethodPost, "/documents/"+view.ID+"/annotations",
		map[string]interface{}{
			"span": map[string]int{"start": 0, "end": 3},
			"type": "title",
		})
	if rec.Code != http.StatusCreated {
		t.Fatal("annotation setup failed")
	}

	rec, _ = do(t, srv, http.MethodPut, "/documents/"+view.ID+"/content",
		map[string]string{"content": "completely new\ncontent"})
	if rec.Code != http.StatusOK {
		t.Fatalf("replace status = %d", rec.Code)
	}

	anns, err := st.LoadAnnotations(context.Background(), view.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(anns) != 0 {
		t.Errorf("annotations survived a content replacement: %+v", anns)
	}
}

func TestValidateEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, envelope := do(t, srv, http.MethodPost, "/validate/ending",
		map[string]string{"language": "bo", "content": "ends wrong."})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var ending struct {
		Valid bool `json:"valid"`
	}
	decodeData(t, envelope, &ending)
	if ending.Valid {
		t.Error("expected invalid ending for Tibetan text ending in a period")
	}

	rec, envelope = do(t, srv, http.MethodPost, "/validate/limits",
		map[string]interface{}{"content": "short\na longer line here\nok", "limit": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var limits struct {
		InvalidCount int `json:"invalid_count"`
	}
	decodeData(t, envelope, &limits)
	if limits.InvalidCount != 1 {
		t.Errorf("invalid_count = %d, want 1", limits.InvalidCount)
	}

	rec, _ = do(t, srv, http.MethodPost, "/validate/limits",
		map[string]interface{}{"content": "x", "limit": 0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero limit status = %d, want 400", rec.Code)
	}
}

func TestExportDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	view := createTestDocument(t, srv, "one\ntwo")

	req := httptest.NewRequest(http.MethodGet, "/documents/"+view.ID+"/export", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-xz" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty export body")
	}
}
