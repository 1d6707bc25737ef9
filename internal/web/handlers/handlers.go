package handlers

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/logstore"
	"github.com/foxzi/mailtrack/internal/mailer"
	"github.com/foxzi/mailtrack/internal/metrics"
	"github.com/foxzi/mailtrack/internal/tracking"
	"github.com/foxzi/mailtrack/internal/web/flash"
	"github.com/foxzi/mailtrack/internal/web/views"
)

// EventRecorder accepts open and click events without blocking the request
type EventRecorder interface {
	Record(event tracking.Event) error
}

// Options holds the dependencies of the route handlers
type Options struct {
	Config   *config.Config
	Views    *views.Engine
	Flash    *flash.Store
	Composer *tracking.Composer
	Issuer   tracking.Issuer
	Sender   mailer.Sender
	Store    *logstore.Store
	Recorder EventRecorder
	Metrics  *metrics.Collector // May be nil
	Logger   *slog.Logger
}

type Handlers struct {
	cfg      *config.Config
	views    *views.Engine
	flash    *flash.Store
	composer *tracking.Composer
	issuer   tracking.Issuer
	sender   mailer.Sender
	store    *logstore.Store
	recorder EventRecorder
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func New(opts Options) *Handlers {
	issuer := opts.Issuer
	if issuer == nil {
		issuer = tracking.UUIDIssuer{}
	}
	return &Handlers{
		cfg:      opts.Config,
		views:    opts.Views,
		flash:    opts.Flash,
		composer: opts.Composer,
		issuer:   issuer,
		sender:   opts.Sender,
		store:    opts.Store,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// pageData is passed to every rendered page
type pageData struct {
	Flashes   []flash.Message
	EmailLogs string
	LinksLogs string
	SentLogs  string
}

// Health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Index renders the landing page
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, views.PageIndex, pageData{Flashes: h.flash.Pop(w, r)})
}

// render buffers the page so a template error never leaves a half-written response
func (h *Handlers) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := h.views.Render(&buf, name, data); err != nil {
		h.error(w, http.StatusInternalServerError, "failed to render page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

// Helper for errors
func (h *Handlers) error(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Error("request error", "status", status, "message", message, "error", err)
	http.Error(w, http.StatusText(status), status)
}

// redirectWithFlash stores a flash message and sends the browser back to target
func (h *Handlers) redirectWithFlash(w http.ResponseWriter, r *http.Request, target, category, text string) {
	if err := h.flash.Add(w, r, category, text); err != nil {
		h.logger.Error("failed to set flash message", "error", err)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
