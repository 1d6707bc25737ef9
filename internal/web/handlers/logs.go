package handlers

import (
	"net/http"

	"github.com/foxzi/mailtrack/internal/logstore"
	"github.com/foxzi/mailtrack/internal/web/views"
)

// Logs renders the three tracking logs
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	data := pageData{Flashes: h.flash.Pop(w, r)}

	targets := []struct {
		name logstore.Name
		dst  *string
	}{
		{logstore.Opens, &data.EmailLogs},
		{logstore.Clicks, &data.LinksLogs},
		{logstore.Sends, &data.SentLogs},
	}

	for _, t := range targets {
		content, err := h.store.ReadAll(t.name)
		if err != nil {
			h.error(w, http.StatusInternalServerError, "failed to read log", err)
			return
		}
		*t.dst = content
	}

	h.render(w, views.PageLogs, data)
}
