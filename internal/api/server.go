// File path: internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/assetlens/unitylog/internal/common"
	"github.com/assetlens/unitylog/internal/store"
)

// Server exposes the analysis engine over HTTP. All session-scoped routes
// resolve {session} through a small open-session cache so repeated queries
// reuse one store handle.
type Server struct {
	router  chi.Router
	manager *store.Manager
	jobs    *jobRegistry

	mu       sync.Mutex
	sessions map[string]*store.Session
}

// Config controls the HTTP listener.
type Config struct {
	Addr string
}

// DefaultConfig returns the standard configuration used when no overrides
// are provided.
func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// Merge overlays non-empty fields from the override onto the base
// configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.Addr) != "" {
		result.Addr = strings.TrimSpace(override.Addr)
	}
	return result
}

func NewServer(manager *store.Manager) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("session manager required")
	}
	srv := &Server{
		router:   chi.NewRouter(),
		manager:  manager,
		jobs:     newJobRegistry(),
		sessions: make(map[string]*store.Session),
	}
	srv.routes()
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	logger.Info("api: configuring routes")
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Get("/api/sessions", s.handleListSessions)
	s.router.Post("/api/sessions", s.handleCreateSession)

	s.router.Route("/api/session/{session}", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/assets", s.handleTopAssets)
		r.Get("/assets/top/{limit}", s.handleTopAssets)
		r.Get("/assets/category/{category}", s.handleAssetsByCategory)
		r.Get("/assets/type/{type}", s.handleAssetsByType)
		r.Get("/assets/importer/{importer}", s.handleAssetsByImporter)
		r.Get("/folders", s.handleFolders)
		r.Get("/pipeline-refreshes", s.handleRefreshes)
		r.Get("/operations", s.handleOperations)
		r.Get("/log-viewer", s.handleLogViewer)
		r.Get("/log-line/{line}", s.handleLogLine)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/progress", s.handleProgressFeed)
		r.Post("/cancel", s.handleCancel)
	})
}

// session resolves a session reference from the URL. The literal "current"
// resolves through the marker file; anything else is a session id.
func (s *Server) session(ctx context.Context, ref string) (*store.Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[ref]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	var (
		sess *store.Session
		err  error
	)
	if ref == "" || ref == "current" {
		sess, err = s.manager.OpenCurrent(ctx)
	} else {
		sess, err = s.manager.OpenByID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.sessions[ref]; ok {
		_ = sess.Close()
		return cached, nil
	}
	s.sessions[ref] = sess
	return sess, nil
}

// dropSessions evicts every cached handle. Creating a session deletes
// all earlier database files, so id-keyed handles go stale too.
func (s *Server) dropSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, sess := range s.sessions {
		_ = sess.Close()
		delete(s.sessions, ref)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps store sentinels onto HTTP statuses so handlers report
// partial availability instead of bare 500s.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
