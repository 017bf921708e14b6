// cmd/gatekey/main.go
//
// gatekey – HTTP entry point.
//
// Start-up sequence
// -----------------
//
//  1. Load configuration (defaults → conf/.env → conf/gatekey.yaml →
//     GATEKEY_ env), resolving vault: secrets.
//
//  2. Start the rotating file logger (tees to console when running in a
//     TTY).
//
//  3. Build the site registry and dial every site concurrently.  A site
//     that stays unreachable is logged and skipped; start-up continues
//     even when none connects, and the health loop keeps retrying.
//
//  4. Build the personnel store and the credential service.
//
//  5. Serve the API until SIGINT or SIGTERM, then drain requests, stop
//     revocation timers (optionally clearing pending keys), and release
//     every site connection.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yanizio/gatekey/internal/api"
	"github.com/yanizio/gatekey/internal/config"
	"github.com/yanizio/gatekey/internal/credential"
	"github.com/yanizio/gatekey/internal/database"
	"github.com/yanizio/gatekey/internal/logger"
	"github.com/yanizio/gatekey/internal/personnel"
	"github.com/yanizio/gatekey/internal/server"
	"github.com/yanizio/gatekey/internal/site"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadContext(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.LogDir(), cfg.Log.Level, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	//
	// ── 1.  Sites ───────────────────────────────────────────────────────
	//
	reg, err := site.FromConfig(cfg.Sites)
	if err != nil {
		logOut.Fatalw("site registry", "err", err)
	}
	mgr := site.NewManager(reg, site.Options{
		Connect: database.Options{
			MaxOpenConns:    cfg.Connect.MaxOpenConns,
			MaxIdleConns:    cfg.Connect.MaxIdleConns,
			ConnMaxLifetime: cfg.Connect.ConnMaxLifetime,
			Timeout:         cfg.Connect.Timeout,
			Retries:         cfg.Connect.MaxRetries,
			RetryBackoff:    cfg.Connect.RetryBackoff,
		},
		FanoutLimit:    cfg.Connect.FanoutLimit,
		HealthInterval: cfg.Connect.HealthInterval,
	}, logOut)
	defer mgr.Close()

	if up := mgr.Initialize(ctx); up == 0 {
		logOut.Warnw("no site reachable at start-up; serving 503 until one recovers",
			"configured", reg.Len())
	}
	mgr.StartHealth()

	//
	// ── 2.  Credential service ──────────────────────────────────────────
	//
	store, err := personnel.NewStore(personnel.SchemaFrom(cfg.Credential))
	if err != nil {
		logOut.Fatalw("personnel schema", "err", err)
	}
	svc, err := credential.New(mgr, store, credential.Options{
		TTL:              cfg.Credential.TTL,
		CodeDigits:       cfg.Credential.CodeDigits,
		RevokeOnShutdown: cfg.Credential.RevokeOnShutdown,
	}, logOut)
	if err != nil {
		logOut.Fatalw("credential service", "err", err)
	}

	//
	// ── 3.  HTTP ────────────────────────────────────────────────────────
	//
	router := api.NewRouter(svc, mgr, api.Options{
		IssueRateLimit: cfg.HTTP.IssueRateLimit,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, logOut)

	serveErr := server.Serve(ctx, server.New(cfg.HTTP.ListenAddr, router), logOut)

	//
	// ── 4.  Teardown ────────────────────────────────────────────────────
	//
	cctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	if err := svc.Close(cctx); err != nil {
		logOut.Errorw("credential shutdown", "err", err)
	}

	if serveErr != nil {
		logOut.Errorw("http server", "err", serveErr)
		mgr.Close()
		_ = logOut.Sync()
		os.Exit(1)
	}
	logOut.Infow("gatekey stopped")
}
