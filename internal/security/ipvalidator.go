package security

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"microchallenges/internal/httpx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var blockedIPs = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "microchallenges_blocked_ips_total",
		Help: "Total number of requests blocked by the IP allowlist",
	},
)

// IPValidator checks client addresses against a list of CIDR ranges. An
// empty list allows every address.
type IPValidator struct {
	mu    sync.RWMutex
	cidrs []*net.IPNet
}

// NewIPValidator parses cidrs. Bare addresses are accepted and treated as a
// single-host range.
func NewIPValidator(cidrs []string) (*IPValidator, error) {
	v := &IPValidator{}
	if err := v.SetCIDRs(cidrs); err != nil {
		return nil, err
	}
	return v, nil
}

// SetCIDRs replaces the allowed ranges.
func (v *IPValidator) SetCIDRs(cidrs []string) error {
	parsed := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return fmt.Errorf("parsing address %q: invalid IP", cidr)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			cidr = fmt.Sprintf("%s/%d", cidr, bits)
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("parsing CIDR %q: %w", cidr, err)
		}
		parsed = append(parsed, ipNet)
	}

	v.mu.Lock()
	v.cidrs = parsed
	v.mu.Unlock()
	return nil
}

// Enabled reports whether any range is configured.
func (v *IPValidator) Enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.cidrs) > 0
}

// IsAllowed checks if the given IP is in one of the configured ranges.
func (v *IPValidator) IsAllowed(ipStr string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.cidrs) == 0 {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range v.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests from addresses outside the allowlist with 403.
func (v *IPValidator) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !v.IsAllowed(host) {
				blockedIPs.Inc()
				logger.Warn("request from address outside allowlist", "ip", host, "path", r.URL.Path)
				httpx.WriteError(w, http.StatusForbidden, "forbidden_ip", "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
