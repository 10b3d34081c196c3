// Package server is the HTTP shell around the page store: HTML views for
// browsers and a JSON API.
package server

import (
	"net/http"
	"net/netip"
	"time"

	apierrors "github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/server/ratelimit"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/wiki"
)

// Config configures the HTTP shell.
type Config struct {
	// MaxBodyBytes limits submitted page bodies. 0 means unlimited.
	MaxBodyBytes int64
	// WriteRatePerMin limits saves per client IP. 0 means unlimited.
	WriteRatePerMin int
	// Version is reported by the health endpoint.
	Version string
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers identify the client. Empty means the peer is the client.
	TrustedProxies []netip.Prefix
}

// Server serves one page store.
type Server struct {
	store   *wiki.Store
	repo    git.Repository
	cfg     Config
	limiter *ratelimit.Limiter
	views   *views
}

// New returns a Server for store, which must be backed by repo.
func New(store *wiki.Store, repo git.Repository, cfg Config) *Server {
	return &Server{
		store:   store,
		repo:    repo,
		cfg:     cfg,
		limiter: ratelimit.NewLimiter(cfg.WriteRatePerMin, time.Minute, max(cfg.WriteRatePerMin/6, 1)),
		views:   newViews(),
	}
}

// Close releases background resources.
func (s *Server) Close() {
	s.limiter.Close()
}

// Handler returns the root handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/health", Wrap(s.health, 0))
	mux.Handle("GET /api/pages", Wrap(s.listPages, 0))
	mux.Handle("GET /api/pages/{name}", Wrap(s.getPage, 0))
	mux.Handle("PUT /api/pages/{name}", Wrap(s.putPage, s.cfg.MaxBodyBytes))
	mux.Handle("GET /api/pages/{name}/history", Wrap(s.pageHistory, 0))
	mux.Handle("GET /api/pages/{name}/backlinks", Wrap(s.pageBacklinks, 0))
	mux.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, apierrors.NotFound("Route "+r.URL.Path))
	}))

	mux.HandleFunc("GET /{$}", s.showRoot)
	mux.HandleFunc("GET /pages", s.showList)
	mux.HandleFunc("GET /pages/{name}", s.showPage)
	mux.HandleFunc("POST /pages/{name}", s.savePage)
	mux.HandleFunc("GET /pages/{name}/edit", s.showEdit)
	mux.HandleFunc("GET /pages/{name}/history", s.showHistory)

	limit := ratelimit.Middleware(s.limiter, func(r *http.Request) string { return "ip:" + ClientIP(r.Context()) }, http.HandlerFunc(rejectRateLimited))
	return withRequestContext(s.cfg.TrustedProxies, limit(mux))
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(r.Context(), w, apierrors.TooManyRequests())
}
