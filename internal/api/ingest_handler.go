// File path: internal/api/ingest_handler.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	chi "github.com/go-chi/chi/v5"

	"github.com/assetlens/unitylog/internal/common"
	"github.com/assetlens/unitylog/internal/ingest"
)

// job tracks one running or finished ingestion so late subscribers and the
// cancel endpoint can reach it.
type job struct {
	sessionID string
	pipeline  *ingest.Pipeline

	mu   sync.Mutex
	subs []chan ingest.Progress
	done bool
	res  ingest.Done
	err  error
}

// subscribe returns a channel of progress reports. A job that already
// finished returns a closed channel; callers read the terminal state from
// result().
func (j *job) subscribe() <-chan ingest.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan ingest.Progress, 16)
	if j.done {
		close(ch)
		return ch
	}
	j.subs = append(j.subs, ch)
	return ch
}

func (j *job) publish(p ingest.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.subs {
		select {
		case ch <- p:
		default:
			// Slow subscriber; it catches up on the next report.
		}
	}
}

func (j *job) finish(res ingest.Done, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
	j.res = res
	j.err = err
	for _, ch := range j.subs {
		close(ch)
	}
	j.subs = nil
}

func (j *job) result() (ingest.Done, error, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.res, j.err, j.done
}

type jobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*job)}
}

func (r *jobRegistry) put(j *job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.sessionID] = j
}

func (r *jobRegistry) get(sessionID string) (*job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[sessionID]
	return j, ok
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// handleCreateSession accepts the parser's NDJSON event stream, creates a
// fresh session store, and runs ingestion in the background. Progress is
// served over the session's websocket feed.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	set, err := ingest.ReadStream(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if set.Metadata == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("event stream missing metadata batch"))
		return
	}

	sess, err := s.manager.Create(r.Context(), *set.Metadata)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	// Every previously cached handle points at a deleted database now.
	s.dropSessions()

	pipeline := ingest.New(sess, 0)
	j := &job{sessionID: sess.Meta.ID, pipeline: pipeline}
	s.jobs.put(j)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range pipeline.Progress() {
			j.publish(p)
		}
	}()
	go func() {
		res, err := pipeline.Run(context.Background(), set)
		if err != nil {
			logger.Error("api: ingestion failed", "session", sess.Meta.ID, "error", err)
		}
		// Run closed its progress channel; wait for the fan-out to drain
		// before closing subscriber channels.
		<-drained
		j.finish(res, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id":    sess.Meta.ID,
		"total_records": set.TotalRecords(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "session")
	if ref == "current" {
		sess, err := s.session(r.Context(), ref)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		ref = sess.Meta.ID
	}
	j, ok := s.jobs.get(ref)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no ingestion running for session %s", ref))
		return
	}
	j.pipeline.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type progressMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// handleProgressFeed streams per-batch ingestion progress over a
// websocket, ending with a complete or error message.
func (s *Server) handleProgressFeed(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	ref := chi.URLParam(r, "session")
	if ref == "current" {
		sess, err := s.session(r.Context(), ref)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		ref = sess.Meta.ID
	}
	j, ok := s.jobs.get(ref)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no ingestion for session %s", ref))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Read pump, only to detect client disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for p := range j.subscribe() {
		if err := conn.WriteJSON(progressMessage{Type: "progress", Data: p}); err != nil {
			logger.Debug("api: progress feed closed", "error", err)
			return
		}
	}

	res, jobErr, done := j.result()
	if !done {
		return
	}
	if jobErr != nil {
		_ = conn.WriteJSON(progressMessage{Type: "error", Data: jobErr.Error()})
		return
	}
	_ = conn.WriteJSON(progressMessage{Type: "complete", Data: res})
}
