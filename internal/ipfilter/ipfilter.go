// Package ipfilter restricts HTTP endpoints to configured networks.
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against an allow-list.
// An empty list allows everyone.
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New parses a list of IPs and CIDRs. Blank entries are skipped, malformed
// ones are an error.
func New(allowed []string, logger *slog.Logger) (*Filter, error) {
	f := &Filter{logger: logger}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			f.prefixes = append(f.prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", entry, err)
		}
		addr = addr.Unmap()
		f.prefixes = append(f.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return f, nil
}

// Enabled returns true if IP filtering is active. A nil filter is disabled.
func (f *Filter) Enabled() bool {
	return f != nil && len(f.prefixes) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	if f == nil {
		return 0
	}
	return len(f.prefixes)
}

// Allows reports whether addr is inside an allowed network
func (f *Filter) Allows(addr netip.Addr) bool {
	if !f.Enabled() {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsRemote checks a host or host:port string such as http.Request.RemoteAddr
func (f *Filter) AllowsRemote(remote string) bool {
	if !f.Enabled() {
		return true
	}
	addr, ok := parseRemote(remote)
	return ok && f.Allows(addr)
}

// Middleware rejects requests from outside the allow-list with 403. It
// trusts r.RemoteAddr, so proxies must be resolved by an earlier middleware.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.AllowsRemote(r.RemoteAddr) {
			f.logger.Warn("access denied by IP filter", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseRemote(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}
