package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/ipfilter"
	"github.com/foxzi/mailtrack/internal/logstore"
	"github.com/foxzi/mailtrack/internal/mailer"
	"github.com/foxzi/mailtrack/internal/metrics"
	"github.com/foxzi/mailtrack/internal/tracking"
	"github.com/foxzi/mailtrack/internal/web/flash"
	"github.com/foxzi/mailtrack/internal/web/handlers"
	"github.com/foxzi/mailtrack/internal/web/middleware"
	"github.com/foxzi/mailtrack/internal/web/static"
	"github.com/foxzi/mailtrack/internal/web/views"
)

// Deps are the components the web server routes requests to
type Deps struct {
	Composer *tracking.Composer
	Issuer   tracking.Issuer // Defaults to UUIDs
	Sender   mailer.Sender
	Store    *logstore.Store
	Recorder handlers.EventRecorder
	Metrics  *metrics.Collector // May be nil
}

type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	views  *views.Engine
	admin  *ipfilter.Filter
	deps   Deps
	http   *http.Server
}

func New(cfg *config.Config, deps Deps, tlsConfig *tls.Config, logger *slog.Logger) (*Server, error) {
	viewEngine, err := views.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize views: %w", err)
	}

	admin, err := ipfilter.New(cfg.Admin.AllowedIPs, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid admin.allowed_ips: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		views:  viewEngine,
		admin:  admin,
		deps:   deps,
	}

	s.http = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		TLSConfig:    tlsConfig,
	}

	return s, nil
}

func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()

	// Peer must run before RealIP so access control sees the real TCP peer
	r.Use(chimw.RequestID)
	r.Use(middleware.Peer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(metrics.HTTPMiddleware(s.deps.Metrics))
	r.Use(chimw.Recoverer)

	h := handlers.New(handlers.Options{
		Config:   s.cfg,
		Views:    s.views,
		Flash:    flash.NewStore(s.cfg.Server.SecretKey),
		Composer: s.deps.Composer,
		Issuer:   s.deps.Issuer,
		Sender:   s.deps.Sender,
		Store:    s.deps.Store,
		Recorder: s.deps.Recorder,
		Metrics:  s.deps.Metrics,
		Logger:   s.logger,
	})

	// Health check
	r.Get("/health", h.Health)

	// Static files (embedded)
	r.Handle("/static/*", http.StripPrefix("/static/", static.Handler()))

	r.Get("/", h.Index)
	r.Get("/send", h.SendForm)
	r.Post("/send", h.Send)

	// Tracking endpoints embedded in sent emails
	r.Get("/track/{id}", h.Track)
	r.Get("/link/{id}", h.Link)

	r.Group(func(r chi.Router) {
		if s.cfg.Admin.ProtectLogs {
			r.Use(middleware.AdminAuth(s.cfg.Admin, s.admin, s.logger))
		}
		r.Get("/logs", h.Logs)
	})

	return r
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe starts the web server on the configured address
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. HTTPS is used when a TLS
// config was supplied.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.http.TLSConfig != nil {
		s.logger.Info("starting web server", "addr", ln.Addr().String(), "tls", true)
		err = s.http.ServeTLS(ln, "", "")
	} else {
		s.logger.Info("starting web server", "addr", ln.Addr().String(), "tls", false)
		err = s.http.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	return s.http.Shutdown(ctx)
}
