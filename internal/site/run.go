package site

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Conn is a connected site as seen by an op.  DB is a snapshot taken when
// the op starts and stays valid for the op's duration.
type Conn struct {
	Site Config
	DB   *sqlx.DB
}

// Op is a unit of work against one connected site.
type Op[T any] func(ctx context.Context, c Conn) (T, error)

// Result is one site's contribution to a fan-out call.  OK is false when
// the site was unavailable or op failed; Err then says why.
type Result[T any] struct {
	Site  string
	Value T
	OK    bool
	Err   error
}

// RunOnAll invokes op against every connected site concurrently and
// returns one Result per configured site, in configuration order.  A
// failing site yields an absent result and never aborts the call.
//
// The only error is ErrAllSitesUnavailable, returned when no site is
// connected; the results are still filled in.
func RunOnAll[T any](ctx context.Context, m *Manager, op Op[T]) ([]Result[T], error) {
	results := make([]Result[T], len(m.handles))

	var g errgroup.Group
	if m.opts.FanoutLimit > 0 {
		g.SetLimit(m.opts.FanoutLimit)
	}

	live := 0
	for i, h := range m.handles {
		results[i].Site = h.ID()
		if h.DB() == nil {
			results[i].Err = fmt.Errorf("%w: %q", ErrSiteUnavailable, h.ID())
			continue
		}
		live++
		g.Go(func() error {
			v, err := invoke(ctx, m, h, op)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Value = v
			results[i].OK = true
			return nil
		})
	}
	_ = g.Wait()

	if live == 0 {
		return results, ErrAllSitesUnavailable
	}
	return results, nil
}

// RunUntilSuccess tries connected sites one at a time in configuration
// order and returns the first successful result.  Sites after the winner
// are never invoked.
//
// Errors: ErrAllSitesUnavailable when nothing is connected, otherwise
// ErrNoResult (joined with every site's failure) when all attempts failed.
func RunUntilSuccess[T any](ctx context.Context, m *Manager, op Op[T]) (Result[T], error) {
	var (
		errs  error
		tried int
	)
	for _, h := range m.handles {
		if h.DB() == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result[T]{}, err
		}
		tried++
		v, err := invoke(ctx, m, h, op)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		return Result[T]{Site: h.ID(), Value: v, OK: true}, nil
	}

	if tried == 0 {
		return Result[T]{}, ErrAllSitesUnavailable
	}
	return Result[T]{}, multierr.Append(ErrNoResult, errs)
}

// invoke runs op on h, wrapping failures as ErrOperationFailure and
// demoting the site when the failure means the connection is gone.
func invoke[T any](ctx context.Context, m *Manager, h *Handle, op Op[T]) (T, error) {
	var zero T
	db := h.DB()
	if db == nil {
		return zero, fmt.Errorf("%w: %q", ErrSiteUnavailable, h.ID())
	}

	v, err := op(ctx, Conn{Site: h.cfg, DB: db})
	if err == nil {
		return v, nil
	}
	if isConnLost(err) {
		h.markFailed(err)
		m.log.Warnw("site connection lost", "site", h.ID(), "err", err)
	} else {
		m.log.Debugw("site op failed", "site", h.ID(), "err", err)
	}
	return zero, fmt.Errorf("%w: site %q: %w", ErrOperationFailure, h.ID(), err)
}
