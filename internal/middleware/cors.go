// cors.go implements the registry's credentialed-CORS policy: the request
// origin is echoed back only when it is the configured web UI origin or
// matches the deployed UI domain pattern; every other origin gets no CORS
// headers at all, which browsers treat as a denial.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// webUIOriginPattern matches the deployed registry web UI domains.
var webUIOriginPattern = regexp.MustCompile(`^https://([a-z0-9-]+\.)?forc\.pub$`)

// CORSConfig carries the single explicitly allowed origin (typically a
// localhost dev origin) alongside the built-in UI domain pattern.
type CORSConfig struct {
	AllowedOrigin string
}

// CORS echoes the Origin header back iff it is allowed, always with
// Allow-Credentials so the session cookie can ride along, and terminates
// OPTIONS preflights.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := origin != "" &&
			(origin == cfg.AllowedOrigin || webUIOriginPattern.MatchString(origin))

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
