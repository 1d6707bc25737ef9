package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/ipfilter"
)

type ctxKey string

const ctxKeyPeerAddr ctxKey = "peer_addr"

// AdminRealm is announced in the Basic auth challenge
const AdminRealm = "mailtrack"

// Peer remembers the TCP peer address before RealIP rewrites RemoteAddr.
// Access control decisions use this address only.
func Peer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxKeyPeerAddr, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PeerAddr returns the address stored by Peer, or RemoteAddr when Peer did not run
func PeerAddr(r *http.Request) string {
	if addr, ok := r.Context().Value(ctxKeyPeerAddr).(string); ok {
		return addr
	}
	return r.RemoteAddr
}

// PeerHost returns the host part of PeerAddr
func PeerHost(r *http.Request) string {
	addr := PeerAddr(r)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Logger middleware logs HTTP requests
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"remote_addr", r.RemoteAddr,
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}

// AdminAuth guards admin pages with HTTP Basic auth and the optional IP allow list.
// Any username is accepted; only the password is checked. A bcrypt hash wins
// over the plaintext password when both are configured.
func AdminAuth(cfg config.AdminConfig, filter *ipfilter.Filter, logger *slog.Logger) func(http.Handler) http.Handler {
	hash := []byte(cfg.PasswordHash)
	plain := []byte(cfg.Password)

	check := func(password string) bool {
		if len(hash) > 0 {
			return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
		}
		if len(plain) == 0 {
			return false
		}
		return subtle.ConstantTimeCompare(plain, []byte(password)) == 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer := PeerAddr(r)
			if filter.Enabled() && !filter.AllowsRemote(peer) {
				logger.Warn("admin access denied by IP filter", "peer", peer, "path", r.URL.Path)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			_, password, ok := r.BasicAuth()
			if !ok || !check(password) {
				if ok {
					logger.Warn("admin authentication failed", "peer", peer, "path", r.URL.Path)
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="`+AdminRealm+`", charset="UTF-8"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
