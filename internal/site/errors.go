package site

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
)

// Connection manager error taxonomy.  Per-site errors never escape a
// fan-out call; they are carried on the site's Result instead.
var (
	ErrConnectionTimeout   = errors.New("site: connection timeout")
	ErrConnectionRefused   = errors.New("site: connection refused")
	ErrOperationFailure    = errors.New("site: operation failed")
	ErrSiteUnavailable     = errors.New("site: not connected")
	ErrUnknownSite         = errors.New("site: unknown site")
	ErrAllSitesUnavailable = errors.New("site: no site available")
	ErrNoResult            = errors.New("site: no site produced a result")
)

// classifyConnect maps a failed dial to ErrConnectionTimeout or
// ErrConnectionRefused, keeping the driver error in the chain.
func classifyConnect(err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isConnLost reports errors that mean the pool can no longer reach the
// server, as opposed to a bad statement.  The caller's own deadline or
// cancellation, and network timeouts, leave the site in service.
func isConnLost(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe) && !oe.Timeout()
}
