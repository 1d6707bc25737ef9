package static

import (
	"embed"
	"net/http"
)

//go:embed css/*
var staticFS embed.FS

// Handler returns an http.Handler that serves the embedded stylesheets
func Handler() http.Handler {
	return http.FileServer(http.FS(staticFS))
}
