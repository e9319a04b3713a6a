// File path: internal/api/query_handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/assetlens/unitylog/internal/query"
	"github.com/assetlens/unitylog/internal/store"
	"github.com/assetlens/unitylog/internal/timeline"
)

// engine resolves the session named in the URL and wraps it in a query
// engine.
func (s *Server) engine(r *http.Request) (*query.Engine, error) {
	sess, err := s.session(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		return nil, err
	}
	return query.New(sess), nil
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	summary, err := eng.Summary(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTopAssets(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	limit := 0
	if v := chi.URLParam(r, "limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = parsed
	}
	assets, err := eng.TopSlowest(r.Context(), limit)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": assets, "count": len(assets)})
}

func (s *Server) handleAssetsByCategory(w http.ResponseWriter, r *http.Request) {
	s.assetGroup(w, r, "asset_category", chi.URLParam(r, "category"))
}

func (s *Server) handleAssetsByType(w http.ResponseWriter, r *http.Request) {
	s.assetGroup(w, r, "asset_type", chi.URLParam(r, "type"))
}

func (s *Server) handleAssetsByImporter(w http.ResponseWriter, r *http.Request) {
	s.assetGroup(w, r, "importer_type", chi.URLParam(r, "importer"))
}

// assetGroup serves one filtered asset listing, sorted slowest-first.
// With ?stream=1 the response is newline-delimited JSON batches so large
// groups render as they arrive.
func (s *Server) assetGroup(w http.ResponseWriter, r *http.Request, column, value string) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	if value == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing group value"))
		return
	}

	if r.URL.Query().Get("stream") == "1" {
		s.streamAssetGroup(w, r, eng, column, value)
		return
	}

	var assets []store.AssetImport
	switch column {
	case "asset_category":
		assets, err = eng.ByCategory(r.Context(), value)
	case "asset_type":
		assets, err = eng.ByType(r.Context(), value, 0)
	case "importer_type":
		assets, err = eng.ByImporter(r.Context(), value)
	}
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": assets, "count": len(assets)})
}

func (s *Server) streamAssetGroup(w http.ResponseWriter, r *http.Request, eng *query.Engine, column, value string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	onBatch := func(b query.AssetBatch) error {
		if err := enc.Encode(b); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	var err error
	switch column {
	case "asset_category":
		err = eng.ByCategoryProgressive(r.Context(), value, 0, onBatch)
	case "asset_type":
		err = eng.ByTypeProgressive(r.Context(), value, 0, onBatch)
	case "importer_type":
		err = eng.ByImporterProgressive(r.Context(), value, 0, onBatch)
	}
	if err != nil {
		// Headers are gone; the truncated stream is the error signal.
		// A client sees a batch without is_last and knows delivery stopped.
		_ = enc.Encode(map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	folders, err := eng.ByFolder(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folders": folders, "count": len(folders)})
}

func (s *Server) handleRefreshes(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	refreshes, err := eng.Refreshes(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"refreshes": refreshes, "count": len(refreshes)})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	breakdown, err := eng.OperationBreakdown(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": breakdown})
}

// handleLogViewer serves windows of the raw log: centered context around a
// line, plain pagination, or search/filter scans.
func (s *Server) handleLogViewer(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	q := query.LineQuery{
		Search: r.URL.Query().Get("search"),
		Filter: r.URL.Query().Get("filter"),
	}
	var bad error
	q.CenterLine = parseInt64(r, "line", &bad)
	q.Offset = parseInt64(r, "offset", &bad)
	q.Limit = parseInt64(r, "limit", &bad)
	if bad != nil {
		writeError(w, http.StatusBadRequest, bad)
		return
	}
	result, err := eng.Lines(r.Context(), q)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLogLine(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	n, err := strconv.ParseInt(chi.URLParam(r, "line"), 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid line number"))
		return
	}
	line, err := eng.Line(r.Context(), n)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	tl, err := timeline.New(sess).Build(r.Context())
	if errors.Is(err, timeline.ErrNoData) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"timeline": nil, "message": "no timeline data"})
		return
	}
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func parseInt64(r *http.Request, name string, bad *error) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed < 0 {
		if *bad == nil {
			*bad = fmt.Errorf("invalid %s parameter %q", name, v)
		}
		return 0
	}
	return parsed
}
