// internal/site/manager.go
//
// Multi-site connection manager.
//
// Context
// -------
// The Manager owns exactly one Handle per configured site.  Start-up dials
// every site concurrently with bounded retry and a per-attempt timeout; a
// site that exhausts its retries is marked failed and simply left out of
// fan-out calls.  No single site can abort start-up.
//
// After start-up a health loop (health.go) pings connected sites and
// retries failed ones.  Queries run through RunOnAll / RunUntilSuccess
// (run.go).
//
// Notes
// -----
//   - Pools are long-lived and shared by all callers; the Manager adds no
//     query-level locking.
//   - Close releases every pool.  Release errors are logged and never stop
//     the remaining releases.
package site

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/gatekey/internal/database"
	"github.com/yanizio/gatekey/internal/metrics"
)

// Options configures a Manager.
type Options struct {
	// Connect carries pool sizing, per-attempt timeout, retries, and
	// backoff.  Connect.Dial may be set by tests.
	Connect database.Options

	// FanoutLimit bounds concurrent ops in RunOnAll; zero means one
	// goroutine per site.
	FanoutLimit int

	// HealthInterval is the ping/reconnect period; zero disables the loop.
	HealthInterval time.Duration
}

// Manager owns the live connections to every configured site.
type Manager struct {
	reg     *Registry
	handles []*Handle // configuration order
	byID    map[string]*Handle
	opts    Options
	log     *zap.SugaredLogger

	sfg singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
	startMu  sync.Mutex
}

// NewManager builds an idle Manager; call Initialize to dial the sites.
func NewManager(reg *Registry, opts Options, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		reg:  reg,
		byID: make(map[string]*Handle, reg.Len()),
		opts: opts,
		log:  log.Named("site"),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, cfg := range reg.All() {
		h := newHandle(cfg)
		m.handles = append(m.handles, h)
		m.byID[cfg.ID] = h
		metrics.SiteUp.WithLabelValues(cfg.ID).Set(0)
	}
	return m
}

// Initialize dials every site concurrently and returns the number that
// connected.  Failures are logged and recorded on the handle; the call
// itself never fails.
func (m *Manager) Initialize(ctx context.Context) int {
	var g errgroup.Group
	for _, h := range m.handles {
		g.Go(func() error {
			m.dial(ctx, h, m.opts.Connect)
			return nil
		})
	}
	_ = g.Wait()

	up := 0
	for _, h := range m.handles {
		if h.State() == StateConnected {
			up++
		}
	}
	m.log.Infow("site connections established",
		"connected", up,
		"configured", len(m.handles),
	)
	return up
}

// dial runs one connect cycle for h and records metrics and logs.
func (m *Manager) dial(ctx context.Context, h *Handle, o database.Options) error {
	id := h.ID()
	log := m.log.With("site", id, "database", h.cfg.Params.Database, "host", h.cfg.Params.Host)

	dial := o.Dial
	if dial == nil {
		dial = database.DialDriver
	}
	o.Dial = func(actx context.Context, p database.Params, po database.Options) (*sqlx.DB, error) {
		db, err := dial(actx, p, po)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.SiteConnectAttemptsTotal.WithLabelValues(id, outcome).Inc()
		return db, err
	}
	o.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warnw("site connect attempt failed", "attempt", attempt, "retry_in", wait, "err", err)
	}

	log.Debugw("connecting to site")
	if err := h.connect(ctx, o); err != nil {
		log.Errorw("site unavailable", "err", err)
		return err
	}
	log.Infow("site connected", "name", h.cfg.Label())
	return nil
}

// reconnect makes one dial attempt for site id.  Concurrent callers for the
// same site share a single attempt.
func (m *Manager) reconnect(ctx context.Context, id string) error {
	h, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSite, id)
	}
	_, err, _ := m.sfg.Do(id, func() (any, error) {
		o := m.opts.Connect
		o.Retries = 0
		return nil, m.dial(ctx, h, o)
	})
	return err
}

// Run invokes op against one site only.  It is the direct, non-fan-out
// path used to write to the site that owns a record.
func Run[T any](ctx context.Context, m *Manager, id string, op Op[T]) (T, error) {
	h, ok := m.byID[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrUnknownSite, id)
	}
	return invoke(ctx, m, h, op)
}

// Sites snapshots every site in configuration order.
func (m *Manager) Sites() []Status {
	out := make([]Status, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h.status())
	}
	return out
}

// Connected reports how many sites are currently usable.
func (m *Manager) Connected() int {
	n := 0
	for _, h := range m.handles {
		if h.State() == StateConnected {
			n++
		}
	}
	return n
}

// Close stops the health loop and releases every pool.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.startMu.Lock()
	started := m.started
	m.startMu.Unlock()
	if started {
		<-m.done
	}

	var errs error
	for _, h := range m.handles {
		if err := h.close(); err != nil {
			m.log.Warnw("site release failed", "site", h.ID(), "err", err)
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		m.log.Warnw("site manager closed with release errors",
			"count", len(multierr.Errors(errs)))
		return
	}
	m.log.Infow("site manager closed")
}
