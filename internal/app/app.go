package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/ipfilter"
	"github.com/foxzi/mailtrack/internal/logstore"
	"github.com/foxzi/mailtrack/internal/mailer"
	"github.com/foxzi/mailtrack/internal/metrics"
	mtTLS "github.com/foxzi/mailtrack/internal/tls"
	"github.com/foxzi/mailtrack/internal/tracking"
	"github.com/foxzi/mailtrack/internal/web/server"
)

const shutdownTimeout = 30 * time.Second

// App is the main application
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         *logstore.Store
	recorder      *logstore.Recorder
	stateDB       *bolt.DB
	collector     *metrics.Collector
	metricsServer *metrics.Server
	sender        mailer.Sender
	webServer     *server.Server
	tlsConfig     *tls.Config
	acmeManager   *mtTLS.ACMEManager
	acmeServer    *http.Server

	shutdownOnce sync.Once
}

// Option customizes an App before its components are built
type Option func(*options)

type options struct {
	logOutput io.Writer
	sender    mailer.Sender
	issuer    tracking.Issuer
}

// WithLogOutput sends application logs to w instead of stdout
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithSender replaces the configured mail driver
func WithSender(s mailer.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithIssuer replaces the tracking ID generator
func WithIssuer(i tracking.Issuer) Option {
	return func(o *options) { o.issuer = i }
}

// New creates a new application
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, o.logOutput)

	a := &App{
		config: cfg,
		logger: logger,
		store:  logstore.NewStore(cfg.Storage.LogsDir),
	}

	// Metrics and their persisted counters
	if cfg.Metrics.Enabled {
		if cfg.Metrics.StatePath != "" {
			db, err := metrics.OpenState(cfg.Metrics.StatePath)
			if err != nil {
				return nil, err
			}
			a.stateDB = db
		}

		collector, err := metrics.NewCollector(a.stateDB, metrics.New(), a.store, cfg.Metrics.FlushInterval)
		if err != nil {
			a.closeState()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.collector = collector

		filter, err := ipfilter.New(cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		if err != nil {
			a.closeState()
			return nil, fmt.Errorf("invalid metrics.allowed_ips: %w", err)
		}
		a.metricsServer = metrics.NewServer(collector.Metrics(), cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			filter, logger.With("component", "metrics"))
	}

	// Mail driver
	a.sender = o.sender
	if a.sender == nil {
		sender, err := mailer.New(ctx, cfg, logger.With("component", "mailer"))
		if err != nil {
			a.closeState()
			return nil, fmt.Errorf("failed to create mail sender: %w", err)
		}
		a.sender = sender
	}

	// Setup TLS configuration
	tlsConfig, acmeManager, err := mtTLS.Setup(cfg.Server.TLS)
	if err != nil {
		a.closeState()
		return nil, fmt.Errorf("failed to set up TLS: %w", err)
	}
	a.tlsConfig = tlsConfig
	a.acmeManager = acmeManager
	if acmeManager != nil {
		logger.Info("ACME (Let's Encrypt) enabled", "domains", acmeManager.Domains())
	} else if tlsConfig != nil {
		logger.Info("TLS enabled with manual certificates")
	}

	// Background event writer; the collector, if any, observes its writes
	var observer logstore.Observer
	if a.collector != nil {
		observer = a.collector
	}
	a.recorder = logstore.NewRecorder(a.store, cfg.Storage.QueueSize, observer, logger.With("component", "recorder"))

	links := make([]tracking.Link, 0, len(cfg.Tracking.Links))
	for _, l := range cfg.Tracking.Links {
		links = append(links, tracking.Link{Label: l.Label, URL: l.URL})
	}

	webServer, err := server.New(cfg, server.Deps{
		Composer: tracking.NewComposer(cfg.Tracking.BaseURL, links),
		Issuer:   o.issuer,
		Sender:   a.sender,
		Store:    a.store,
		Recorder: a.recorder,
		Metrics:  a.collector,
	}, tlsConfig, logger.With("component", "web"))
	if err != nil {
		a.recorder.Close()
		a.closeState()
		return nil, fmt.Errorf("failed to create web server: %w", err)
	}
	a.webServer = webServer

	return a, nil
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Handler returns the web handler, for embedding and tests
func (a *App) Handler() http.Handler {
	return a.webServer.Handler()
}

// Run listens on the configured address and serves until ctx is cancelled
// or SIGINT/SIGTERM arrives
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Server.ListenAddr)
	if err != nil {
		a.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", a.config.Server.ListenAddr, err)
	}

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Serve(ctx, ln)
}

// Serve runs all components with the web server on ln, then shuts down
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("starting mailtrack",
		"addr", ln.Addr().String(),
		"tracking_base_url", a.config.Tracking.BaseURL,
		"driver", a.sender.Driver(),
		"logs_dir", a.store.Dir(),
		"metrics", a.metricsServer != nil,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.collector.Start(ctx)

	// Channel to collect errors
	errCh := make(chan error, 3)

	go func() {
		if err := a.webServer.Serve(ln); err != nil {
			errCh <- fmt.Errorf("web server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Start ACME HTTP challenge server on port 80 if ACME is enabled
	if a.acmeManager != nil {
		a.acmeServer = &http.Server{
			Addr:    ":80",
			Handler: a.acmeManager.HTTPHandler(),
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", "addr", ":80")
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("ACME HTTP server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	a.Shutdown(context.Background())
	return runErr
}

// Shutdown gracefully shuts down all components. Tracking events accepted
// before the HTTP server stopped are written before it returns.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() { a.shutdown(ctx) })
	return nil
}

func (a *App) shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := a.webServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("web server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	// Drain queued tracking events
	a.recorder.Close()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Stop collector (persists counters)
	if err := a.collector.Stop(); err != nil {
		a.logger.Error("metrics collector stop error", "error", err)
	}

	a.closeState()

	a.logger.Info("shutdown complete")
}

func (a *App) closeState() {
	if a.stateDB == nil {
		return
	}
	if err := a.stateDB.Close(); err != nil {
		a.logger.Error("metrics state close error", "error", err)
	}
	a.stateDB = nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewLogger creates the application logger writing to stdout
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return setupLogger(cfg, os.Stdout)
}
