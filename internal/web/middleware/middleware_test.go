package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

func TestPeerSurvivesRealIP(t *testing.T) {
	var peer, remote string
	handler := Peer(chimw.RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer = PeerAddr(r)
		remote = r.RemoteAddr
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("X-Forwarded-For", "10.9.8.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if peer != "192.0.2.10:4000" {
		t.Errorf("PeerAddr() = %q, want the TCP peer", peer)
	}
	if remote != "10.9.8.7" {
		t.Errorf("RemoteAddr = %q, want RealIP rewrite", remote)
	}
}

func TestPeerAddrWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4000"

	if got := PeerAddr(req); got != "192.0.2.10:4000" {
		t.Errorf("PeerAddr() = %q, want RemoteAddr", got)
	}
	if got := PeerHost(req); got != "192.0.2.10" {
		t.Errorf("PeerHost() = %q, want host only", got)
	}

	req.RemoteAddr = "pipe"
	if got := PeerHost(req); got != "pipe" {
		t.Errorf("PeerHost() = %q, want raw address when no port", got)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	out := buf.String()
	for _, want := range []string{"http request", "method=GET", "path=/brew", "status=418", "bytes=15"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestLoggerDefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("log output %q, want status=200 when nothing was written", buf.String())
	}
}
