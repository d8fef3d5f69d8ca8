// Package api exposes an authority's public artifacts over HTTP: the
// authority certificate, the current CRL (the target of issued
// certificates' CRL distribution points) and a JSON view of the
// issuance index. All endpoints are read-only.
package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/certhand/ca"
)

// API holds the dependencies needed by the distribution handlers.
type API struct {
	authority *ca.Authority
	log       *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request events. If not set,
// a JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.log = logger
	}
}

// New creates a new API instance serving the given authority.
func New(authority *ca.Authority, opts ...Option) *API {
	a := &API{authority: authority}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all distribution routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.requestLogger)

	r.Get("/health", a.Health)
	r.Get("/ca.pem", a.CACertificate)
	r.Get("/crl.pem", a.CRL)
	r.Get("/index.json", a.IndexEntries)
	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// CACertificate serves the authority certificate in PEM form.
func (a *API) CACertificate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(a.authority.CertificatePEM())
}

// CRL serves the most recently built CRL. 404 until the first build.
func (a *API) CRL(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(a.authority.CRLPath())
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "no CRL has been built", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Error("reading CRL", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(data)
}

// IndexEntries serves the issuance index as JSON.
func (a *API) IndexEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := a.authority.Index().List()
	if err != nil {
		a.log.Error("listing index", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		a.log.Error("encoding index", "error", err)
	}
}
