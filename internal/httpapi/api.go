// Package httpapi is the HTTP surface of the service. Routing uses the
// standard mux with hand-parsed subpaths; every handler resolves the calling
// principal from the request context before touching a service.
package httpapi

import (
	"context"
	"net/http"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/credential"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/invoice"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/sharing"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the API needs. Nil services disable their routes
// with 503 instead of panicking.
type Deps struct {
	Identity    *identity.Service
	Tokens      *identity.Authenticator
	Credentials *credential.Service
	Shares      *sharing.Manager
	Invoices    *invoice.Service
	Trail       *audit.Recorder
	Ready       ReadyProbe
	Version     string
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	identity    *identity.Service
	tokens      *identity.Authenticator
	credentials *credential.Service
	shares      *sharing.Manager
	invoices    *invoice.Service
	trail       *audit.Recorder
	ready       ReadyProbe
	version     string
}

func New(d Deps) *API {
	a := &API{
		mux:         http.NewServeMux(),
		identity:    d.Identity,
		tokens:      d.Tokens,
		credentials: d.Credentials,
		shares:      d.Shares,
		invoices:    d.Invoices,
		trail:       d.Trail,
		ready:       d.Ready,
		version:     d.Version,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/credentials", a.handleCredentials)
	a.mux.HandleFunc("/v1/credentials/", a.handleCredentialScoped)
	a.mux.HandleFunc("/v1/invoices", a.handleInvoices)
	a.mux.HandleFunc("/v1/invoices/", a.handleInvoiceScoped)
	a.mux.HandleFunc("/v1/audit/", a.handleAuditTrail)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux with the full middleware chain, metrics outermost.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsdesk-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
