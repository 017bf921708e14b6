// Package database centralises sqlx connection helpers for site databases.
//
// Sites run Firebird (nakagami/firebirdsql) in production.  MySQL,
// PostgreSQL (pgx), and SQLite (modernc) are registered too so a site can
// be migrated, mirrored, or tested without touching the callers.
//
// Public entry points:
//
//	DSN(params)                          – driver-specific DSN string.
//	Open(ctx, params)                    – single pool with DefaultOptions.
//	OpenWithOptions(ctx, params, opts)   – pool sizing, timeout, retries.
//
// Both helpers Ping the database before returning so callers can fail fast.
// Callers should Close() the returned *sqlx.DB when no longer needed.
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/nakagami/firebirdsql"
	_ "modernc.org/sqlite"
)

// Supported driver names, as registered with database/sql.
const (
	Firebird = "firebirdsql"
	MySQL    = "mysql"
	Postgres = "pgx"
	SQLite   = "sqlite"
)

// Params is the connection half of a site descriptor.
type Params struct {
	Driver   string
	Host     string
	Port     int
	Database string // file path for Firebird and SQLite, schema name otherwise
	User     string
	Password string
}

// DialFunc performs one connection attempt.  The context carries the
// per-attempt deadline.
type DialFunc func(ctx context.Context, p Params, o Options) (*sqlx.DB, error)

// Options tunes pool sizing and connection establishment.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Timeout      time.Duration // per attempt; zero means no deadline
	Retries      int           // extra attempts after the first
	RetryBackoff time.Duration // wait before retry n is n × RetryBackoff

	// OnRetry is called before each wait.  attempt is the 1-based number of
	// the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Dial replaces the default driver dial; tests use it to inject
	// sqlmock handles or scripted failures.
	Dial DialFunc
}

// DefaultOptions mirrors the connect section defaults.
var DefaultOptions = Options{
	MaxOpenConns:    4,
	MaxIdleConns:    2,
	ConnMaxLifetime: 30 * time.Minute,
	Timeout:         10 * time.Second,
	Retries:         2,
	RetryBackoff:    time.Second,
}

// DSN renders p in the format its driver expects.
func DSN(p Params) (string, error) {
	hostPort := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))

	switch p.Driver {
	case Firebird:
		// user:password@host:port/C:/ACS/Base/ACS.fdb
		return url.UserPassword(p.User, p.Password).String() + "@" + hostPort + "/" + p.Database, nil

	case MySQL:
		cfg := mysqldriver.NewConfig()
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort
		cfg.DBName = p.Database
		cfg.ParseTime = true
		// Report matched rows, not changed rows, so rewriting an equal key
		// still counts as an update.
		cfg.ClientFoundRows = true
		return cfg.FormatDSN(), nil

	case Postgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(p.User, p.Password),
			Host:   hostPort,
			Path:   "/" + p.Database,
		}
		return u.String(), nil

	case SQLite:
		return p.Database, nil

	default:
		return "", fmt.Errorf("unsupported driver %q", p.Driver)
	}
}

// Open returns a pool with DefaultOptions.
func Open(ctx context.Context, p Params) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, p, DefaultOptions)
}

// OpenWithOptions dials p, retrying up to o.Retries times with linear
// backoff.  Each attempt is bounded by o.Timeout.  The last attempt's
// error is returned when all attempts fail.
func OpenWithOptions(ctx context.Context, p Params, o Options) (*sqlx.DB, error) {
	dial := o.Dial
	if dial == nil {
		dial = DialDriver
	}

	var (
		db      *sqlx.DB
		attempt int
	)
	op := func() error {
		attempt++
		actx, cancel := attemptContext(ctx, o.Timeout)
		defer cancel()

		conn, err := dial(actx, p, o)
		if err != nil {
			return err
		}
		db = conn
		return nil
	}

	var b backoff.BackOff = &linearBackOff{step: o.RetryBackoff}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(o.Retries, 0))), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		if o.OnRetry != nil {
			o.OnRetry(attempt, err, wait)
		}
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// DialDriver is the production DialFunc: open the driver pool, apply pool
// limits, and ping within ctx.
func DialDriver(ctx context.Context, p Params, o Options) (*sqlx.DB, error) {
	dsn, err := DSN(p)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(p.Driver, dsn)
	if err != nil {
		return nil, err
	}
	ApplyPool(db, o)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ApplyPool copies the pool limits in o onto db.  Zero values leave the
// driver defaults in place.
func ApplyPool(db *sqlx.DB, o Options) {
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
}

func attemptContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// linearBackOff waits n × step before retry n.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
