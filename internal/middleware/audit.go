// audit.go provides Gin middleware that records authenticated write
// operations (logins, logouts, token mint/revoke, publishes) to the audit
// shipper pipeline.
package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forc-lang/forc-registry/internal/audit"
	"github.com/forc-lang/forc-registry/internal/safego"
)

// auditResourceType maps a request path to the resource class recorded in
// the audit entry.
func auditResourceType(path string) string {
	switch {
	case strings.Contains(path, "/upload_project") || strings.Contains(path, "/publish"):
		return "package"
	case strings.Contains(path, "/token"):
		return "api_token"
	case strings.Contains(path, "/login") || strings.Contains(path, "/logout"):
		return "session"
	default:
		return ""
	}
}

// AuditMiddleware ships one entry per completed write request. Read
// operations are not audited; failed writes are — a rejected publish or a
// bad login attempt is exactly what a security review wants to see.
// Shipping happens off the request goroutine so a slow audit destination
// never adds latency to the response.
func AuditMiddleware(shipper audit.Shipper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil {
			return
		}
		if c.Request.Method == "GET" || c.Request.Method == "OPTIONS" || c.Request.Method == "HEAD" {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:    time.Now(),
			Action:       c.Request.Method + " " + c.Request.URL.Path,
			ResourceType: auditResourceType(c.Request.URL.Path),
			IPAddress:    c.ClientIP(),
			StatusCode:   c.Writer.Status(),
		}

		if ac := GetAuthContext(c); ac != nil {
			entry.UserID = strconv.FormatInt(ac.User.ID, 10)
			entry.AuthMethod = string(ac.Kind)
		}
		if id, ok := c.Get(RequestIDKey); ok {
			if rid, ok := id.(string); ok {
				entry.Metadata = map[string]interface{}{"request_id": rid}
			}
		}

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// MultiShipper logs per-destination failures itself.
			_ = shipper.Ship(ctx, entry)
		})
	}
}
