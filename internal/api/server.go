// Package api serves the HTTP surface: project connection, sync triggers,
// single-issue creation, archive downloads and the Jira connect flow.
//
// Callers are identified by the X-User-ID header set by the fronting auth
// layer. Every route except /health and the OAuth callback requires it.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/surya-s-1/captain-tool-integrations/internal/archive"
	"github.com/surya-s-1/captain-tool-integrations/internal/blob"
	"github.com/surya-s-1/captain-tool-integrations/internal/dispatch"
	"github.com/surya-s-1/captain-tool-integrations/internal/jira"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/telemetry"
	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
)

// UserHeader carries the caller's uid.
const UserHeader = "X-User-ID"

// Syncer runs version syncs and single-issue creation.
type Syncer interface {
	SyncVersion(ctx context.Context, uid string, scope tracker.Scope) (*tracker.SyncResult, error)
	CreateOne(ctx context.Context, uid string, scope tracker.Scope, id string) (*tracker.TrackerIssue, error)
}

// Archiver submits and polls archive jobs.
type Archiver interface {
	Submit(ctx context.Context, req archive.Request) (string, error)
	Poll(ctx context.Context, jobID string) (*archive.JobView, error)
}

// Runner starts fenced background work.
type Runner interface {
	Go(ctx context.Context, key string, task dispatch.Task) error
}

// JiraDirectory lists what a connected user can reach.
type JiraDirectory interface {
	AccessibleResources(ctx context.Context, uid string) ([]jira.AccessibleSite, error)
	Projects(ctx context.Context, uid, cloudID string) ([]jira.Project, error)
}

// Authorizer runs the OAuth authorization-code grant.
type Authorizer interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Connections stores and reports user credentials.
type Connections interface {
	Connected(ctx context.Context, uid string) (bool, error)
	Connect(ctx context.Context, uid string, tok *oauth2.Token) error
}

// Store is the persistence the handlers read directly.
type Store interface {
	storage.DocumentStore
	storage.CredentialIndex
}

// ServerConfig holds the server's collaborators.
type ServerConfig struct {
	Store       Store
	Syncer      Syncer
	Archive     Archiver
	Blobs       blob.Store
	Runner      Runner
	Jira        JiraDirectory
	OAuth       Authorizer
	Connections Connections

	// FrontendRedirectURL is where the OAuth callback sends the browser.
	FrontendRedirectURL string
	Logger              *slog.Logger
}

// Server handles HTTP requests.
type Server struct {
	cfg        ServerConfig
	mux        *http.ServeMux
	httpServer *http.Server

	newID func() string
}

// NewServer creates a server and registers its routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux(), newID: uuid.NewString}

	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.Handle("POST /projects/connect", s.user(s.handleConnectProject))
	s.mux.Handle("POST /projects/{project}/versions/{version}/sync", s.user(s.handleSync))
	s.mux.Handle("POST /projects/{project}/versions/{version}/{kind}/{id}/issue", s.user(s.handleCreateOne))
	s.mux.Handle("POST /projects/{project}/versions/{version}/downloads", s.user(s.handleSubmitDownload))
	s.mux.Handle("GET /downloads/{job}", s.user(s.handleDownload))

	s.mux.Handle("GET /tools/jira/status", s.user(s.handleJiraStatus))
	s.mux.Handle("POST /tools/jira/connect", s.user(s.handleJiraConnect))
	s.mux.HandleFunc("GET /tools/jira/auth/callback", s.handleJiraCallback)
	s.mux.Handle("GET /tools/jira/sites", s.user(s.handleJiraSites))
	s.mux.Handle("GET /tools/jira/projects", s.user(s.handleJiraProjects))

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // archive downloads stream
		IdleTimeout:       60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return telemetry.WrapHandler(s.logRequests(s.mux), "captain.api")
}

type uidKey struct{}

// user rejects requests without a uid and passes it on in the context.
func (s *Server) user(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(UserHeader)
		if uid == "" {
			WriteJSONError(w, http.StatusUnauthorized, "missing "+UserHeader, "")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), uidKey{}, uid)))
	})
}

func uidFrom(r *http.Request) string {
	uid, _ := r.Context().Value(uidKey{}).(string)
	return uid
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		level := slog.LevelDebug
		if sw.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.cfg.Logger.Log(r.Context(), level, "request",
			"method", r.Method, "path", r.URL.Path, "status", sw.status,
			"duration", time.Since(start), "uid", r.Header.Get(UserHeader))
	})
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
