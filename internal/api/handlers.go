package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dorjee-dev/outliner/core/biblio"
	"github.com/dorjee-dev/outliner/core/errors"
	"github.com/dorjee-dev/outliner/core/segment"
	"github.com/dorjee-dev/outliner/core/span"
	"github.com/dorjee-dev/outliner/core/validate"
	"github.com/dorjee-dev/outliner/internal/archive"
	"github.com/dorjee-dev/outliner/internal/formats"
	"github.com/dorjee-dev/outliner/internal/logging"
	"github.com/dorjee-dev/outliner/internal/store"
)

// Version is the API version reported by the info endpoints.
const Version = "0.3.0"

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DocumentView is the full document payload returned to editors.
type DocumentView struct {
	ID          string             `json:"id"`
	Filename    string             `json:"filename"`
	UserID      string             `json:"user_id"`
	Status      string             `json:"status"`
	Content     string             `json:"content"`
	ContentHash string             `json:"content_hash"`
	Segments    []*segment.Segment `json:"segments"`
	Complete    bool               `json:"complete"`
	Tail        span.Span          `json:"tail"`
	Progress    segment.Progress   `json:"progress"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

var startTime = time.Now()

func respond(w http.ResponseWriter, status int, data interface{}) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func respondList(w http.ResponseWriter, data interface{}, total int) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// respondCoreError maps the error taxonomy onto HTTP statuses: missing
// resources are 404, rejected mutations 409, bad input 400, ownership
// failures 403.
func respondCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, errors.ErrInvariant):
		respondError(w, http.StatusConflict, "INVARIANT_VIOLATION", err.Error())
	case errors.Is(err, errors.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, errors.ErrOutOfRange):
		respondError(w, http.StatusBadRequest, "OUT_OF_RANGE", err.Error())
	case errors.Is(err, errors.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, errors.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	default:
		logging.Error("internal error", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "Outliner API",
		"version": Version,
		"endpoints": []string{
			"GET /health",
			"GET /documents",
			"POST /documents",
			"GET /documents/:id",
			"DELETE /documents/:id",
			"POST /documents/:id/restore",
			"PUT /documents/:id/status",
			"PUT /documents/:id/content",
			"GET /documents/:id/progress",
			"GET /documents/:id/export",
			"POST /documents/:id/segments",
			"POST /documents/:id/segments/bulk",
			"POST /documents/:id/segments/merge",
			"PATCH /documents/:id/segments/:sid",
			"DELETE /documents/:id/segments/:sid",
			"POST /documents/:id/segments/:sid/split",
			"PUT /documents/:id/segments/:sid/status",
			"POST /documents/:id/segments/:sid/comments",
			"GET /documents/:id/annotations",
			"POST /documents/:id/annotations",
			"POST /validate/ending",
			"POST /validate/limits",
			"WS /ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	docs, err := s.st.ListDocuments(r.Context(), "", true)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   Version,
		"uptime":    time.Since(startTime).String(),
		"documents": len(docs),
		"clients":   s.hub.ClientCount(),
	})
}

// ---- documents ----

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	docs, err := s.st.ListDocuments(r.Context(), userID, includeDeleted)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondList(w, docs, len(docs))
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
		UserID   string `json:"user_id"`
		Content  string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	content, err := formats.Ingest(req.Filename, []byte(req.Content))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	rec, err := s.st.CreateDocument(r.Context(), req.Filename, req.UserID, content)
	if err != nil {
		respondCoreError(w, err)
		return
	}

	logging.DocumentEvent("created", rec.Doc.ID, "filename", rec.Filename)
	s.hub.NotifyDocument("created", rec.Doc.ID)
	respond(w, http.StatusCreated, s.documentView(rec))
}

func (s *Server) documentView(rec *store.Record) DocumentView {
	return DocumentView{
		ID:          rec.Doc.ID,
		Filename:    rec.Filename,
		UserID:      rec.UserID,
		Status:      string(rec.Status),
		Content:     rec.Doc.Content,
		ContentHash: rec.Doc.ContentHash,
		Segments:    rec.Doc.Segments,
		Complete:    rec.Doc.Complete(),
		Tail:        rec.Doc.Tail(),
		Progress:    rec.Doc.Progress(),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	rec, err := s.st.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respond(w, http.StatusOK, s.documentView(rec))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.st.SoftDelete(r.Context(), id); err != nil {
		respondCoreError(w, err)
		return
	}
	logging.DocumentEvent("deleted", id)
	s.hub.NotifyDocument("deleted", id)
	respond(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRestoreDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.st.Restore(r.Context(), id, req.UserID); err != nil {
		respondCoreError(w, err)
		return
	}
	logging.DocumentEvent("restored", id, "user_id", req.UserID)
	s.hub.NotifyDocument("restored", id)
	respond(w, http.StatusOK, map[string]string{"id": id, "status": "active"})
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.st.SetDocumentStatus(r.Context(), id, store.DocStatus(req.Status)); err != nil {
		respondCoreError(w, err)
		return
	}
	logging.DocumentEvent("status_changed", id, "status", req.Status)
	s.hub.NotifyDocument("status_changed", id)
	respond(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

func (s *Server) handleReplaceContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := s.st.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	rec.Doc.ReplaceContent(formats.NormalizeText(req.Content))
	if err := s.st.SaveDocument(r.Context(), rec); err != nil {
		respondCoreError(w, err)
		return
	}
	// A content edit invalidates span-addressed overlays.
	if err := s.st.SaveAnnotations(r.Context(), rec.Doc.ID, nil); err != nil {
		respondCoreError(w, err)
		return
	}

	logging.DocumentEvent("content_replaced", rec.Doc.ID)
	s.hub.NotifyDocument("content_replaced", rec.Doc.ID)
	respond(w, http.StatusOK, s.documentView(rec))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := s.st.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respond(w, http.StatusOK, rec.Doc.Progress())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.st.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	anns, err := s.st.LoadAnnotations(r.Context(), rec.Doc.ID)
	if err != nil {
		respondCoreError(w, err)
		return
	}

	exportDir := s.cfg.ExportDir
	if exportDir == "" {
		exportDir = os.TempDir()
	}
	path := filepath.Join(exportDir, rec.Doc.ID+".tar.xz")
	if err := archive.Export(rec, anns, path); err != nil {
		respondCoreError(w, err)
		return
	}

	logging.DocumentEvent("exported", rec.Doc.ID, "path", path)
	w.Header().Set("Content-Type", "application/x-xz")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", rec.Filename+".tar.xz"))
	http.ServeFile(w, r, path)
}

// ---- segments ----

// mutateDocument loads a document, applies fn, and persists the result.
// Rejections from the segment collection leave the stored state alone.
func (s *Server) mutateDocument(w http.ResponseWriter, r *http.Request, operation string,
	fn func(doc *segment.Document) (interface{}, error)) {
	rec, err := s.st.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}

	result, err := fn(rec.Doc)
	if err != nil {
		if errors.Is(err, errors.ErrInvariant) {
			logging.InvariantRejected(operation, rec.Doc.ID, err)
		}
		respondCoreError(w, err)
		return
	}
	if err := s.st.SaveDocument(r.Context(), rec); err != nil {
		respondCoreError(w, err)
		return
	}

	logging.SegmentEvent(operation, rec.Doc.ID, len(rec.Doc.Segments))
	s.hub.NotifySegments(operation, rec.Doc.ID, len(rec.Doc.Segments))
	respond(w, http.StatusOK, result)
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var req segment.SegmentCreate
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mutateDocument(w, r, "create", func(doc *segment.Document) (interface{}, error) {
		return doc.Create(req)
	})
}

func (s *Server) handleBulkSegments(w http.ResponseWriter, r *http.Request) {
	var req segment.BulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mutateDocument(w, r, "bulk", func(doc *segment.Document) (interface{}, error) {
		return doc.Bulk(req)
	})
}

func (s *Server) handleMergeSegments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SegmentIDs []string `json:"segment_ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mutateDocument(w, r, "merge", func(doc *segment.Document) (interface{}, error) {
		return doc.Merge(req.SegmentIDs)
	})
}

func (s *Server) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	var req segment.SegmentUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = r.PathValue("sid")
	s.mutateDocument(w, r, "update", func(doc *segment.Document) (interface{}, error) {
		return doc.Update(req)
	})
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	s.mutateDocument(w, r, "delete", func(doc *segment.Document) (interface{}, error) {
		if err := doc.Delete(sid); err != nil {
			return nil, err
		}
		return map[string]string{"id": sid}, nil
	})
}

func (s *Server) handleSplitSegment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position int `json:"position"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sid := r.PathValue("sid")
	s.mutateDocument(w, r, "split", func(doc *segment.Document) (interface{}, error) {
		first, second, err := doc.Split(sid, req.Position)
		if err != nil {
			return nil, err
		}
		return []*segment.Segment{first, second}, nil
	})
}

func (s *Server) handleSegmentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sid := r.PathValue("sid")
	s.mutateDocument(w, r, "status", func(doc *segment.Document) (interface{}, error) {
		if err := doc.SetStatus(sid, segment.Status(req.Status)); err != nil {
			return nil, err
		}
		seg, _ := doc.Segment(sid)
		return seg, nil
	})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sid := r.PathValue("sid")
	s.mutateDocument(w, r, "comment", func(doc *segment.Document) (interface{}, error) {
		return doc.AddComment(sid, req.Content, req.Username)
	})
}

func commentIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Comment index must be an integer")
		return 0, false
	}
	return idx, true
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	idx, ok := commentIndex(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sid := r.PathValue("sid")
	s.mutateDocument(w, r, "comment", func(doc *segment.Document) (interface{}, error) {
		return doc.UpdateComment(sid, idx, req.Content)
	})
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	idx, ok := commentIndex(w, r)
	if !ok {
		return
	}
	sid := r.PathValue("sid")
	s.mutateDocument(w, r, "comment", func(doc *segment.Document) (interface{}, error) {
		return doc.DeleteComment(sid, idx)
	})
}

// ---- annotations ----

func (s *Server) loadTracker(r *http.Request, documentID string) (*biblio.Tracker, error) {
	rec, err := s.st.GetDocument(r.Context(), documentID)
	if err != nil {
		return nil, err
	}
	anns, err := s.st.LoadAnnotations(r.Context(), documentID)
	if err != nil {
		return nil, err
	}
	tracker := biblio.NewTracker(rec.Doc.Content)
	tracker.Restore(anns)
	return tracker, nil
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	tracker, err := s.loadTracker(r, r.PathValue("id"))
	if err != nil {
		respondCoreError(w, err)
		return
	}
	if r.URL.Query().Get("grouped") == "true" {
		respond(w, http.StatusOK, tracker.GroupByType())
		return
	}
	respondList(w, tracker.Annotations(), tracker.Len())
}

func (s *Server) handleAddAnnotation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Span span.Span `json:"span"`
		Type string    `json:"type"`
		Text string    `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	tracker, err := s.loadTracker(r, id)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	ann, err := tracker.Add(req.Span, biblio.Type(req.Type), req.Text)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	if err := s.st.SaveAnnotations(r.Context(), id, tracker.Annotations()); err != nil {
		respondCoreError(w, err)
		return
	}

	s.hub.NotifyAnnotations("added", id)
	respond(w, http.StatusCreated, ann)
}

func (s *Server) handleRemoveAnnotation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tracker, err := s.loadTracker(r, id)
	if err != nil {
		respondCoreError(w, err)
		return
	}

	// Removal of an absent id is a no-op by design.
	tracker.Remove(r.PathValue("aid"))
	if err := s.st.SaveAnnotations(r.Context(), id, tracker.Annotations()); err != nil {
		respondCoreError(w, err)
		return
	}

	s.hub.NotifyAnnotations("removed", id)
	respond(w, http.StatusOK, map[string]int{"remaining": tracker.Len()})
}

func (s *Server) handleClearAnnotations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.st.GetDocument(r.Context(), id); err != nil {
		respondCoreError(w, err)
		return
	}
	if err := s.st.SaveAnnotations(r.Context(), id, nil); err != nil {
		respondCoreError(w, err)
		return
	}

	s.hub.NotifyAnnotations("cleared", id)
	respond(w, http.StatusOK, map[string]int{"remaining": 0})
}

// ---- validation ----

func (s *Server) handleValidateEnding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
		Content  string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	respond(w, http.StatusOK, validate.ValidateEnding(req.Language, req.Content))
}

func (s *Server) handleValidateLimits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
		Limit   int    `json:"limit"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Limit must be positive")
		return
	}
	respond(w, http.StatusOK, validate.ValidateSegmentLimits(req.Content, req.Limit))
}
