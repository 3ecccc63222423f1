package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin rejects websocket upgrades from hosts outside the allowlist. An
// empty allowlist admits every origin, which suits local development.
func Origin(allowed []string) gin.HandlerFunc {
	hosts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = struct{}{}
			continue
		}
		hosts[strings.ToLower(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		if len(hosts) == 0 {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			// non-browser clients send no Origin header
			c.Next()
			return
		}
		u, err := url.Parse(origin)
		if err != nil {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if _, ok := hosts[strings.ToLower(u.Host)]; !ok {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
