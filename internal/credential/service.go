// internal/credential/service.go
//
// Ephemeral access-key lifecycle.
//
// Context
// -------
// Issue finds a person on whichever site holds the record, writes a fresh
// parity-encoded key to that site, and arms a timer that blanks the key
// again once the TTL runs out.  Per identifier the life-cycle is
//
//	idle → key active → idle          (expiry or RevokeNow)
//	key active → key active           (reissue; old timer is cancelled)
//
// Concurrency
// -----------
//   - A keyed mutex serialises Issue, RevokeNow, and timer fires for the
//     same identifier.  Different identifiers run in parallel.
//   - The pending table is guarded by its own mutex and is only ever held
//     for map and timer bookkeeping, never across a database call.
//   - A fire first checks that the table still points at its own entry.
//     If a reissue replaced it the fire does nothing.  Otherwise it removes
//     the entry and clears the key with `… AND key = <captured key>`, so a
//     late fire never wipes a newer key written by another process.
//
// Notes
// -----
//   - The caller only ever sees the display code.  The encoded key stays
//     between this package and the database.
//   - Timers come from an injected juju clock so tests can run in virtual
//     time.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yanizio/gatekey/internal/keycodec"
	"github.com/yanizio/gatekey/internal/metrics"
	"github.com/yanizio/gatekey/internal/personnel"
	"github.com/yanizio/gatekey/internal/site"
)

// fireTimeout bounds the database work of one expiry.
const fireTimeout = 30 * time.Second

// Identifier names a person by kind (a configured column alias such as
// "uuid" or "tabelnomer") and value.
type Identifier struct {
	Kind  string
	Value string
}

func (id Identifier) String() string { return id.Kind + "/" + id.Value }

// Issued describes a successful Issue.
type Issued struct {
	Code      uint32    // what the person types or scans
	Site      string    // site that owns the record
	PersonID  string    // primary key on that site
	ExpiresAt time.Time // when the key is cleared
}

// Options tunes a Service.
type Options struct {
	TTL              time.Duration
	CodeDigits       int
	RevokeOnShutdown bool

	// Clock drives revocation timers; nil means the wall clock.
	Clock clock.Clock

	// Codes generates display codes; nil means keycodec.DisplayCode.
	Codes func(digits int) (uint32, error)
}

type revocation struct {
	id      Identifier
	site    string
	key     string
	expires time.Time
	timer   clock.Timer
}

// Service issues and revokes keys.
type Service struct {
	mgr   *site.Manager
	store *personnel.Store
	opts  Options
	clk   clock.Clock
	log   *zap.SugaredLogger

	keys *kmutex.Kmutex

	mu      sync.Mutex
	pending map[string]*revocation
	closed  bool
	fires   sync.WaitGroup
}

// New wires a Service over mgr and store.
func New(mgr *site.Manager, store *personnel.Store, opts Options, log *zap.SugaredLogger) (*Service, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("credential: ttl must be positive, got %v", opts.TTL)
	}
	if opts.CodeDigits > keycodec.MaxDigits {
		return nil, fmt.Errorf("credential: %w: %d", keycodec.ErrDigits, opts.CodeDigits)
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Codes == nil {
		opts.Codes = keycodec.DisplayCode
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		mgr:     mgr,
		store:   store,
		opts:    opts,
		clk:     opts.Clock,
		log:     log.Named("credential"),
		keys:    kmutex.New(),
		pending: make(map[string]*revocation),
	}, nil
}

// Issue generates a key for id, writes it to the site that owns the
// record, and schedules its revocation.  Any earlier pending revocation
// for id is cancelled once the new key is written.
func (s *Service) Issue(ctx context.Context, id Identifier) (Issued, error) {
	if err := s.check(id); err != nil {
		return Issued{}, err
	}
	k := id.String()
	s.keys.Lock(k)
	defer s.keys.Unlock(k)

	owner, rec, err := s.lookup(ctx, id)
	if err != nil {
		return Issued{}, err
	}

	code, err := s.opts.Codes(s.opts.CodeDigits)
	if err != nil {
		metrics.IssueErrorsTotal.WithLabelValues("code").Inc()
		return Issued{}, err
	}
	key := keycodec.Encode(code)

	n, err := site.Run(ctx, s.mgr, owner, func(ctx context.Context, c site.Conn) (int64, error) {
		return s.store.SetKey(ctx, c, id.Kind, id.Value, key)
	})
	if err == nil && n == 0 {
		err = errors.New("no rows updated")
	}
	if err != nil {
		metrics.IssueErrorsTotal.WithLabelValues("update").Inc()
		s.log.Warnw("key write failed", "id", k, "site", owner, "err", err)
		return Issued{}, fmt.Errorf("%w: %s on %s: %w", ErrUpdateFailed, k, owner, err)
	}

	r := s.arm(ctx, id, owner, key)
	metrics.KeysIssuedTotal.Inc()
	s.log.Infow("key issued",
		"id", k,
		"site", owner,
		"person", rec.PersonID,
		"expires", r.expires,
	)
	return Issued{Code: code, Site: owner, PersonID: rec.PersonID, ExpiresAt: r.expires}, nil
}

// lookup fans out over every connected site and returns the first site,
// in configuration order, holding a matching record.
func (s *Service) lookup(ctx context.Context, id Identifier) (string, personnel.Record, error) {
	type hit struct {
		rec   personnel.Record
		found bool
	}
	results, err := site.RunOnAll(ctx, s.mgr, func(ctx context.Context, c site.Conn) (hit, error) {
		rec, found, err := s.store.Find(ctx, c, id.Kind, id.Value)
		return hit{rec, found}, err
	})
	if err != nil {
		metrics.IssueErrorsTotal.WithLabelValues("unavailable").Inc()
		return "", personnel.Record{}, err
	}

	var failed, live int
	for _, r := range results {
		if errors.Is(r.Err, site.ErrSiteUnavailable) {
			continue
		}
		live++
		if !r.OK {
			failed++
			continue
		}
		if r.Value.found {
			return r.Site, r.Value.rec, nil
		}
	}
	if live > 0 && failed == live {
		metrics.IssueErrorsTotal.WithLabelValues("query").Inc()
		return "", personnel.Record{}, fmt.Errorf("%w: %s", ErrQueryFailure, id)
	}
	metrics.IssueErrorsTotal.WithLabelValues("not_found").Inc()
	return "", personnel.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// arm installs the revocation for a freshly written key, replacing any
// earlier one.  Must be called with the identifier locked.
func (s *Service) arm(ctx context.Context, id Identifier, owner, key string) *revocation {
	k := id.String()
	r := &revocation{
		id:      id,
		site:    owner,
		key:     key,
		expires: s.clk.Now().Add(s.opts.TTL),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warnw("service closed during issue; key has no revocation", "id", k, "site", owner)
		return r
	}
	old := s.pending[k]
	if old != nil {
		old.timer.Stop()
	}
	r.timer = s.clk.AfterFunc(s.opts.TTL, func() { s.fire(r) })
	s.pending[k] = r
	metrics.PendingRevocations.Set(float64(len(s.pending)))
	s.mu.Unlock()

	// The person moved sites since the last issue; the old key would
	// otherwise outlive its timer.
	if old != nil && old.site != owner {
		_ = s.clear(ctx, old, "superseded")
	}
	return r
}

// fire runs when r's timer expires.
func (s *Service) fire(r *revocation) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.fires.Add(1)
	s.mu.Unlock()
	defer s.fires.Done()

	k := r.id.String()
	s.keys.Lock(k)
	defer s.keys.Unlock(k)

	s.mu.Lock()
	if s.pending[k] != r {
		s.mu.Unlock()
		return
	}
	delete(s.pending, k)
	metrics.PendingRevocations.Set(float64(len(s.pending)))
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()
	_ = s.clear(ctx, r, "expired")
}

// clear blanks r's key on its site if the key is still the one r wrote.
func (s *Service) clear(ctx context.Context, r *revocation, reason string) error {
	k := r.id.String()
	n, err := site.Run(ctx, s.mgr, r.site, func(ctx context.Context, c site.Conn) (int64, error) {
		return s.store.ClearKeyIf(ctx, c, r.id.Kind, r.id.Value, r.key)
	})
	if err != nil {
		s.log.Errorw("key revocation failed; key remains active",
			"id", k, "site", r.site, "reason", reason, "err", err)
		return fmt.Errorf("%w: revoke %s on %s: %w", ErrUpdateFailed, k, r.site, err)
	}
	if n == 0 {
		s.log.Infow("key already replaced; nothing to revoke", "id", k, "site", r.site, "reason", reason)
		return nil
	}
	metrics.KeysRevokedTotal.WithLabelValues(reason).Inc()
	s.log.Infow("key revoked", "id", k, "site", r.site, "reason", reason)
	return nil
}

// RevokeNow blanks id's key immediately and cancels its pending
// revocation.  Without a pending entry every connected site gets a blank
// write, which touches nothing where the record does not live.  Revoking
// an identifier with no active key succeeds.
func (s *Service) RevokeNow(ctx context.Context, id Identifier) error {
	if err := s.check(id); err != nil {
		return err
	}
	k := id.String()
	s.keys.Lock(k)
	defer s.keys.Unlock(k)

	s.mu.Lock()
	r := s.pending[k]
	s.mu.Unlock()

	if r != nil {
		_, err := site.Run(ctx, s.mgr, r.site, func(ctx context.Context, c site.Conn) (int64, error) {
			return s.store.SetKey(ctx, c, id.Kind, id.Value, "")
		})
		if err != nil {
			s.log.Warnw("manual revocation failed", "id", k, "site", r.site, "err", err)
			return fmt.Errorf("%w: revoke %s on %s: %w", ErrUpdateFailed, k, r.site, err)
		}

		s.mu.Lock()
		if s.pending[k] == r {
			r.timer.Stop()
			delete(s.pending, k)
			metrics.PendingRevocations.Set(float64(len(s.pending)))
		}
		s.mu.Unlock()

		metrics.KeysRevokedTotal.WithLabelValues("manual").Inc()
		s.log.Infow("key revoked", "id", k, "site", r.site, "reason", "manual")
		return nil
	}

	results, err := site.RunOnAll(ctx, s.mgr, func(ctx context.Context, c site.Conn) (int64, error) {
		return s.store.SetKey(ctx, c, id.Kind, id.Value, "")
	})
	if err != nil {
		return err
	}

	var rows int64
	var errs error
	live := 0
	for _, res := range results {
		if errors.Is(res.Err, site.ErrSiteUnavailable) {
			continue
		}
		live++
		if !res.OK {
			errs = multierr.Append(errs, res.Err)
			continue
		}
		rows += res.Value
	}
	if live > 0 && len(multierr.Errors(errs)) == live {
		return fmt.Errorf("%w: revoke %s: %w", ErrUpdateFailed, k, errs)
	}
	if rows > 0 {
		metrics.KeysRevokedTotal.WithLabelValues("manual").Inc()
	}
	s.log.Infow("blank write for identifier without pending revocation", "id", k, "rows", rows)
	return nil
}

// Pending reports the number of armed revocations.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Expiry returns when id's key is due to be cleared.
func (s *Service) Expiry(id Identifier) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.pending[id.String()]
	if !ok {
		return time.Time{}, false
	}
	return r.expires, true
}

// Close stops every timer and waits for fires already in progress.  With
// RevokeOnShutdown the keys still pending are cleared before returning;
// otherwise they stay active in the databases.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	left := make([]*revocation, 0, len(s.pending))
	for k, r := range s.pending {
		r.timer.Stop()
		left = append(left, r)
		delete(s.pending, k)
	}
	metrics.PendingRevocations.Set(0)
	s.mu.Unlock()

	s.fires.Wait()

	if !s.opts.RevokeOnShutdown {
		if len(left) > 0 {
			s.log.Warnw("shutting down with active keys", "count", len(left))
		}
		return nil
	}

	var errs error
	for _, r := range left {
		errs = multierr.Append(errs, s.clear(ctx, r, "shutdown"))
	}
	return errs
}

func (s *Service) check(id Identifier) error {
	if strings.TrimSpace(id.Value) == "" {
		return ErrInvalidIdentifier
	}
	if _, err := s.store.Column(id.Kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
