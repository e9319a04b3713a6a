// File path: internal/query/engine.go
package query

import (
	"github.com/assetlens/unitylog/internal/store"
)

// Engine answers the analytical and navigational queries for one session.
// It holds an explicit session handle; nothing here consults global state.
type Engine struct {
	session *store.Session
	lines   LineSource
	retry   retryPolicy
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLineSource overrides the default store-backed line source, e.g. with
// a file-backed source for a live session.
func WithLineSource(src LineSource) Option {
	return func(e *Engine) {
		e.lines = src
	}
}

// New builds an Engine over the session.
func New(session *store.Session, opts ...Option) *Engine {
	e := &Engine{
		session: session,
		lines:   NewStoreLineSource(session.Store),
		retry:   defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns the handle this engine queries.
func (e *Engine) Session() *store.Session {
	return e.session
}
