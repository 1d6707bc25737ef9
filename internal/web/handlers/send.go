package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/foxzi/mailtrack/internal/logstore"
	"github.com/foxzi/mailtrack/internal/mailer"
	"github.com/foxzi/mailtrack/internal/metrics"
	"github.com/foxzi/mailtrack/internal/tracking"
	"github.com/foxzi/mailtrack/internal/web/flash"
	"github.com/foxzi/mailtrack/internal/web/views"
)

const sendPath = "/send"

// SendForm renders the compose form with any pending flash messages
func (h *Handlers) SendForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, views.PageSendForm, pageData{Flashes: h.flash.Pop(w, r)})
}

// Send composes a tracked email, dispatches it and records the send
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, sendPath, flash.Error, "Todos los campos son obligatorios")
		return
	}

	// Subject and body are sent as typed; only the address is trimmed
	recipient := strings.TrimSpace(r.PostFormValue("recipient"))
	subject := r.PostFormValue("subject")
	content := r.PostFormValue("content")

	if recipient == "" || blank(subject) || blank(content) {
		h.redirectWithFlash(w, r, sendPath, flash.Error, "Todos los campos son obligatorios")
		return
	}

	id := h.issuer.Issue()
	msg := &mailer.Message{
		To:      recipient,
		Subject: subject,
		HTML:    h.composer.Compose(content, id),
	}

	err := h.sender.Send(r.Context(), msg)
	h.metrics.TrackDispatch(h.sender.Driver(), dispatchResult(err))
	if err != nil {
		h.logger.Warn("email dispatch failed",
			"id", id,
			"recipient", recipient,
			"driver", h.sender.Driver(),
			"temporary", mailer.IsTemporaryError(err),
			"error", err,
		)
		h.redirectWithFlash(w, r, sendPath, flash.Error, fmt.Sprintf("Error al enviar correo: %v", err))
		return
	}

	h.logger.Info("email sent", "id", id, "recipient", recipient, "driver", h.sender.Driver())

	if err := h.store.Append(logstore.Sends, tracking.NewSent(id, recipient)); err != nil {
		h.logger.Error("failed to record send", "id", id, "recipient", recipient, "error", err)
		h.metrics.TrackLogWriteFailure(string(logstore.Sends))
		h.redirectWithFlash(w, r, sendPath, flash.Warning,
			fmt.Sprintf("Correo enviado con ID de rastreo: %s, pero no se pudo registrar el envío: %v", id, err))
		return
	}
	h.metrics.TrackEvent(string(tracking.KindSent))

	h.redirectWithFlash(w, r, sendPath, flash.Success,
		fmt.Sprintf("Correo enviado exitosamente con ID de rastreo: %s", id))
}

func dispatchResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case mailer.IsTemporaryError(err):
		return metrics.ResultTemporary
	default:
		return metrics.ResultPermanent
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
