package handlers

import (
	"bytes"
	"image"
	"image/png"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/mailtrack/internal/tracking"
	"github.com/foxzi/mailtrack/internal/web/middleware"
)

// Track records an email open and serves a transparent pixel
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	id := tracking.ID(chi.URLParam(r, "id"))
	ip, ua, referer := clientInfo(r)

	h.record(tracking.NewOpen(id, ip, ua, referer))

	pixel, err := encodePixel()
	if err != nil {
		h.error(w, http.StatusInternalServerError, "failed to encode pixel", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `inline; filename="pixel.png"`)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixel)
}

// Link records a click and redirects to the requested destination.
// The destination is not restricted: wrapped links may point anywhere.
func (h *Handlers) Link(w http.ResponseWriter, r *http.Request) {
	id := tracking.ID(chi.URLParam(r, "id"))
	ip, ua, referer := clientInfo(r)

	h.record(tracking.NewClick(id, ip, ua, referer))

	target := r.URL.Query().Get("redirect")
	if target == "" {
		target = h.cfg.Tracking.DefaultRedirect
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// record hands the event to the recorder. Failures never reach the client.
func (h *Handlers) record(event tracking.Event) {
	if err := h.recorder.Record(event); err != nil {
		h.logger.Warn("tracking event not recorded",
			"kind", event.Kind,
			"id", event.TrackingID,
			"error", err,
		)
	}
}

// clientInfo returns the address, user agent and referer logged for a hit.
// X-Forwarded-For is logged verbatim when present.
func clientInfo(r *http.Request) (ip, userAgent, referer string) {
	ip = r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = middleware.PeerHost(r)
	}
	return ip, r.Header.Get("User-Agent"), r.Header.Get("Referer")
}

// encodePixel encodes a 1x1 fully transparent RGBA image
func encodePixel() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
