// internal/site/handle.go
//
// Per-site connection handle.
//
// Context
// -------
// A Handle binds one site Config to one long-lived *sqlx.DB pool and
// tracks where that pool is in its life-cycle:
//
//	disconnected → connecting → connected → (failed | disconnected)
//
// failed sites return to connecting when the health loop retries them.
// Handles are owned by the Manager; callers only ever see them inside a
// fan-out op, where DB() is guaranteed non-nil.
package site

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/gatekey/internal/database"
	"github.com/yanizio/gatekey/internal/metrics"
)

// State is the connection life-cycle position of a site.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Handle is one site's runtime connection.
type Handle struct {
	cfg Config

	mu      sync.RWMutex
	state   State
	db      *sqlx.DB
	lastErr error
	since   time.Time
}

func newHandle(cfg Config) *Handle {
	return &Handle{cfg: cfg, since: time.Now()}
}

// ID returns the site ID.
func (h *Handle) ID() string { return h.cfg.ID }

// DB returns the pool, or nil unless the site is connected.
func (h *Handle) DB() *sqlx.DB {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != StateConnected {
		return nil
	}
	return h.db
}

// State returns the current life-cycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

func (h *Handle) status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Status{
		ID:    h.cfg.ID,
		Name:  h.cfg.Label(),
		State: h.state.String(),
		Since: h.since,
	}
	if h.lastErr != nil {
		st.LastError = h.lastErr.Error()
	}
	return st
}

// connect dials the site with o, replacing any previous pool.  The
// returned error is already classified.
func (h *Handle) connect(ctx context.Context, o database.Options) error {
	h.setState(StateConnecting, nil)

	db, err := database.OpenWithOptions(ctx, h.cfg.Params, o)
	if err != nil {
		err = classifyConnect(err)
		h.setState(StateFailed, err)
		return err
	}

	h.mu.Lock()
	old := h.db
	h.db = db
	h.state = StateConnected
	h.lastErr = nil
	h.since = time.Now()
	h.mu.Unlock()

	metrics.SiteUp.WithLabelValues(h.cfg.ID).Set(1)
	if old != nil && old != db {
		_ = old.Close()
	}
	return nil
}

// markFailed moves a connected site to failed; the pool is kept so the
// next reconnect can replace it.
func (h *Handle) markFailed(err error) {
	h.setState(StateFailed, err)
}

// close releases the pool and leaves the handle disconnected.
func (h *Handle) close() error {
	h.mu.Lock()
	db := h.db
	h.db = nil
	h.state = StateDisconnected
	h.since = time.Now()
	h.mu.Unlock()

	metrics.SiteUp.WithLabelValues(h.cfg.ID).Set(0)
	if db == nil {
		return nil
	}
	return db.Close()
}

func (h *Handle) setState(s State, err error) {
	h.mu.Lock()
	changed := h.state != s
	h.state = s
	h.lastErr = err
	if changed {
		h.since = time.Now()
	}
	h.mu.Unlock()

	if s != StateConnected {
		metrics.SiteUp.WithLabelValues(h.cfg.ID).Set(0)
	}
}
