// Package middleware contains shared Gin middleware used by the HTTP layer.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// IPAllowlist returns a middleware that rejects requests whose client IP is
// outside the configured set. Entries may be single addresses ("10.0.0.5")
// or CIDR ranges ("10.0.0.0/8"). An empty or fully unparseable list admits
// everything so a bad deploy cannot lock the gateway out.
func IPAllowlist(entries []string) gin.HandlerFunc {
	var nets []*net.IPNet
	var ips []net.IP
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			ips = append(ips, ip)
			continue
		}
		log.Warn().Str("entry", e).Msg("allowlist entry ignored: not an IP or CIDR")
	}
	if len(nets) == 0 && len(ips) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip != nil {
			for _, a := range ips {
				if a.Equal(ip) {
					c.Next()
					return
				}
			}
			for _, n := range nets {
				if n.Contains(ip) {
					c.Next()
					return
				}
			}
		}
		log.Warn().Str("remote_ip", c.ClientIP()).Msg("request outside IP allowlist")
		abortJSON(c, http.StatusForbidden, "forbidden", "source address not allowed")
	}
}
