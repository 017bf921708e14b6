// internal/api/api.go
//
// HTTP surface of the key issuer.
//
// Routes
// ------
//
//	GET    /qr/staff/generate/{uuid}         issue by staff token
//	GET    /qr/stud/generate/{tabelnomer}    issue by personnel number
//	GET    /qr/{kind}/generate/{value}       issue by any configured kind
//	DELETE /qr/{kind}/{value}                revoke now
//	GET    /healthz                          site states
//	GET    /metrics                          Prometheus
//
// Every reply is a Response envelope.  A successful issue carries the
// display code as data.key; the encoded key never leaves the service.
//
// Notes
// -----
//   - Issue routes are GETs for compatibility with existing turnstile
//     clients, even though they write.
//   - The rate limit applies to issue routes only.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/gatekey/internal/credential"
	"github.com/yanizio/gatekey/internal/middleware"
	"github.com/yanizio/gatekey/internal/site"
)

// Issuer is the credential service as seen by the handlers.
type Issuer interface {
	Issue(ctx context.Context, id credential.Identifier) (credential.Issued, error)
	RevokeNow(ctx context.Context, id credential.Identifier) error
}

// SiteReporter reports connection state for /healthz.
type SiteReporter interface {
	Sites() []site.Status
	Connected() int
}

// Options tunes the router.
type Options struct {
	IssueRateLimit int           // per client IP per minute; 0 disables
	Metrics        http.Handler  // nil means promhttp.Handler()
	RequestTimeout time.Duration // 0 means no per-request deadline
}

// KeyData is the payload of a successful issue.
type KeyData struct {
	Key       uint32    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthData is the payload of /healthz.
type HealthData struct {
	Connected int           `json:"connected"`
	Sites     []site.Status `json:"sites"`
}

type handler struct {
	svc   Issuer
	sites SiteReporter
	log   *zap.SugaredLogger
}

// NewRouter builds the full handler tree.
func NewRouter(svc Issuer, sites SiteReporter, opts Options, log *zap.SugaredLogger) http.Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &handler{svc: svc, sites: sites, log: log.Named("api")}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Security)
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/qr", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.IssueRateLimit))
			r.Get("/staff/generate/{value}", h.issue("uuid"))
			r.Get("/stud/generate/{value}", h.issue("tabelnomer"))
			r.Get("/{kind}/generate/{value}", h.issue(""))
		})
		r.Delete("/{kind}/{value}", h.revoke)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// issue returns the handler for a fixed kind, or for the {kind} path
// parameter when kind is empty.
func (h *handler) issue(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := credential.Identifier{Kind: kind, Value: chi.URLParam(r, "value")}
		if kind == "" {
			id.Kind = chi.URLParam(r, "kind")
		}

		got, err := h.svc.Issue(r.Context(), id)
		if err != nil {
			h.fail(w, r, "issue", id, err)
			return
		}
		writeData(w, http.StatusOK, KeyData{Key: got.Code, ExpiresAt: got.ExpiresAt})
	}
}

func (h *handler) revoke(w http.ResponseWriter, r *http.Request) {
	id := credential.Identifier{Kind: chi.URLParam(r, "kind"), Value: chi.URLParam(r, "value")}
	if err := h.svc.RevokeNow(r.Context(), id); err != nil {
		h.fail(w, r, "revoke", id, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Status: http.StatusOK, Message: "Key revoked"})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	data := HealthData{Connected: h.sites.Connected(), Sites: h.sites.Sites()}
	status := http.StatusOK
	if data.Connected == 0 {
		status = http.StatusServiceUnavailable
	}
	writeData(w, status, data)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, op string, id credential.Identifier, err error) {
	status, msg := classify(err)
	if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		// Site failures caused by the request deadline surface as 504.
		status, msg = classify(context.DeadlineExceeded)
	}
	if status >= http.StatusInternalServerError {
		h.log.Errorw(op+" failed", "id", id.String(), "err", err,
			"request_id", middleware.GetRequestID(r.Context()))
	} else {
		h.log.Debugw(op+" rejected", "id", id.String(), "err", err)
	}
	writeError(w, status, msg)
}
