// health.go houses the site health loop.  Every HealthInterval it walks
// the sites in configuration order and:
//
//   - pings connected sites; a failed ping marks the site failed
//   - makes one reconnect attempt for failed or disconnected sites
//
// The loop never blocks Close for longer than one ping timeout.
package site

import (
	"context"
	"time"
)

// StartHealth launches the health loop.  It is a no-op when HealthInterval
// is zero or when the loop is already running.
func (m *Manager) StartHealth() {
	if m.opts.HealthInterval <= 0 {
		return
	}
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.healthLoop()
}

func (m *Manager) healthLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

// checkAll runs one health pass.
func (m *Manager) checkAll() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, h := range m.handles {
		if ctx.Err() != nil {
			return
		}
		switch h.State() {
		case StateConnected:
			m.ping(ctx, h)
		case StateFailed, StateDisconnected:
			if err := m.reconnect(ctx, h.ID()); err == nil {
				m.log.Infow("site recovered", "site", h.ID())
			}
		}
	}
}

func (m *Manager) ping(ctx context.Context, h *Handle) {
	db := h.DB()
	if db == nil {
		return
	}
	timeout := m.opts.Connect.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pctx); err != nil {
		h.markFailed(classifyConnect(err))
		m.log.Warnw("site ping failed", "site", h.ID(), "err", err)
	}
}
