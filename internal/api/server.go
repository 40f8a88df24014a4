// Package api provides the Outliner REST API server.
package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dorjee-dev/outliner/internal/logging"
	"github.com/dorjee-dev/outliner/internal/server"
	"github.com/dorjee-dev/outliner/internal/store"
)

// Server ties the HTTP handlers to the document store and the
// change-notification hub.
type Server struct {
	cfg Config
	st  *store.Store
	hub *Hub
}

// NewServer creates a server around an open store. The hub's run loop is
// started by Start; tests drive handlers directly via Routes.
func NewServer(cfg Config, st *store.Store) *Server {
	return &Server{
		cfg: cfg,
		st:  st,
		hub: NewHub(),
	}
}

// Routes builds the request multiplexer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("POST /documents", s.handleCreateDocument)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /documents/{id}/restore", s.handleRestoreDocument)
	mux.HandleFunc("PUT /documents/{id}/status", s.handleDocumentStatus)
	mux.HandleFunc("PUT /documents/{id}/content", s.handleReplaceContent)
	mux.HandleFunc("GET /documents/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /documents/{id}/export", s.handleExport)

	mux.HandleFunc("POST /documents/{id}/segments", s.handleCreateSegment)
	mux.HandleFunc("POST /documents/{id}/segments/bulk", s.handleBulkSegments)
	mux.HandleFunc("POST /documents/{id}/segments/merge", s.handleMergeSegments)
	mux.HandleFunc("PATCH /documents/{id}/segments/{sid}", s.handleUpdateSegment)
	mux.HandleFunc("DELETE /documents/{id}/segments/{sid}", s.handleDeleteSegment)
	mux.HandleFunc("POST /documents/{id}/segments/{sid}/split", s.handleSplitSegment)
	mux.HandleFunc("PUT /documents/{id}/segments/{sid}/status", s.handleSegmentStatus)
	mux.HandleFunc("POST /documents/{id}/segments/{sid}/comments", s.handleAddComment)
	mux.HandleFunc("PUT /documents/{id}/segments/{sid}/comments/{idx}", s.handleUpdateComment)
	mux.HandleFunc("DELETE /documents/{id}/segments/{sid}/comments/{idx}", s.handleDeleteComment)

	mux.HandleFunc("GET /documents/{id}/annotations", s.handleListAnnotations)
	mux.HandleFunc("POST /documents/{id}/annotations", s.handleAddAnnotation)
	mux.HandleFunc("DELETE /documents/{id}/annotations", s.handleClearAnnotations)
	mux.HandleFunc("DELETE /documents/{id}/annotations/{aid}", s.handleRemoveAnnotation)

	mux.HandleFunc("POST /validate/ending", s.handleValidateEnding)
	mux.HandleFunc("POST /validate/limits", s.handleValidateLimits)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

// Start opens the store, wires the middleware chain, and serves until
// the listener fails.
func Start(cfg Config) error {
	if err := ValidateAuthConfig(cfg.Auth); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
		if _, err := os.Stat(cfg.TLS.CertFile); err != nil {
			return fmt.Errorf("TLS cert file not found: %w", err)
		}
		if _, err := os.Stat(cfg.TLS.KeyFile); err != nil {
			return fmt.Errorf("TLS key file not found: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	srv := NewServer(cfg, st)
	go srv.hub.Run()

	protocol := "http"
	wsProtocol := "ws"
	if cfg.TLS.Enabled {
		protocol = "https"
		wsProtocol = "wss"
		logging.Info("TLS enabled", "cert_file", cfg.TLS.CertFile)
	} else {
		logging.Warn("TLS disabled - using plain HTTP",
			"recommendation", "consider using TLS or reverse proxy for production")
	}
	logging.ServerStartup("rest_api", protocol, cfg.Port,
		"websocket_protocol", wsProtocol,
		"database", server.AbsPath(cfg.DBPath))

	var handler http.Handler = server.SecurityHeadersMiddleware(srv.Routes())
	handler = server.LimitRequestBody(handler)

	if cfg.Auth.Enabled {
		handler = AuthMiddleware(cfg.Auth, handler)
		logging.SecurityEvent("authentication_configured", "api",
			"enabled", true,
			"note", "API key required")
	} else {
		logging.SecurityEvent("authentication_configured", "api",
			"enabled", false,
			"note", "all requests allowed")
	}

	if cfg.RateLimitRequests > 0 {
		limiter := NewRateLimiter(RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         cfg.RateLimitBurst,
		})
		handler = limiter.Middleware(handler)
		logging.Info("rate limiting enabled",
			"requests_per_minute", cfg.RateLimitRequests,
			"burst_size", cfg.RateLimitBurst)
	}

	handler = server.CORSMiddlewareWithConfig(server.CORSConfig{
		AllowedOrigins: cfg.AllowedOrigins,
	}, handler)
	if len(cfg.AllowedOrigins) > 0 {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "restricted",
			"allowed_origins_count", len(cfg.AllowedOrigins))
	} else {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "permissive",
			"note", "allowing all origins (*) - consider restricting for production")
	}

	handler = logging.CombinedMiddleware(handler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if cfg.TLS.Enabled {
		return http.ListenAndServeTLS(addr, cfg.TLS.CertFile, cfg.TLS.KeyFile, handler)
	}
	return http.ListenAndServe(addr, handler)
}
