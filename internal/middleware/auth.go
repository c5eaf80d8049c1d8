// Package middleware provides Gin HTTP middleware for authentication,
// rate limiting, security headers, request identification, and audit
// logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Guard → Audit → Handler
//
// Security headers run first so they appear on all responses including
// errors. Rate limiting runs before the guards to block brute-force
// attempts before any DB work. The guards populate the AuthContext; audit
// logging runs after the handler so it can record the final status code.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forc-lang/forc-registry/internal/auth"
	"github.com/forc-lang/forc-registry/internal/db/models"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
)

// SessionCookieName is the cookie carrying the browser session id.
const SessionCookieName = "fp_session"

// AuthContextKey is the gin.Context key the guards store the resolved
// AuthContext under.
const AuthContextKey = "auth_context"

// AuthKind tags which credential scheme authenticated the request.
type AuthKind string

const (
	AuthKindSession AuthKind = "session"
	AuthKindToken   AuthKind = "token"
)

// AuthContext is the resolved identity a guard hands to the handler. User
// is always set; Session or Token is set according to Kind.
type AuthContext struct {
	Kind    AuthKind
	User    *models.User
	Session *models.Session
	Token   *models.APIToken
}

// GetAuthContext retrieves the AuthContext a guard stored on the request,
// or nil when the route carries no guard.
func GetAuthContext(c *gin.Context) *AuthContext {
	v, ok := c.Get(AuthContextKey)
	if !ok {
		return nil
	}
	ac, ok := v.(*AuthContext)
	if !ok {
		return nil
	}
	return ac
}

func abortUnauthorized(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"kind":  "Unauthorized",
		"error": reason,
	})
}

// SessionGuard authenticates a request by its fp_session cookie. A missing
// cookie, a malformed id, an unknown session, or an expired session all
// reject with 401; the reason strings distinguish them in logs but the
// client sees a single Unauthorized kind.
func SessionGuard(sessionRepo *repositories.SessionRepository, userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(SessionCookieName)
		if err != nil || cookie == "" {
			abortUnauthorized(c, "missing session cookie")
			return
		}

		if _, err := uuid.Parse(cookie); err != nil {
			abortUnauthorized(c, "invalid session cookie")
			return
		}

		session, err := sessionRepo.Get(c.Request.Context(), cookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"kind": "Database", "error": "failed to load session"})
			return
		}
		if session == nil {
			abortUnauthorized(c, "invalid session cookie")
			return
		}
		if session.Expired(time.Now()) {
			abortUnauthorized(c, "session expired")
			return
		}

		user, err := userRepo.GetByID(c.Request.Context(), session.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"kind": "Database", "error": "failed to load user"})
			return
		}
		if user == nil {
			abortUnauthorized(c, "session user no longer exists")
			return
		}

		c.Set(AuthContextKey, &AuthContext{
			Kind:    AuthKindSession,
			User:    user,
			Session: session,
		})
		c.Next()
	}
}

// TokenGuard authenticates a request by its Authorization bearer token.
// Lookup is by SHA-256 of the presented plaintext; the plaintext itself
// never reaches a query or a log line.
func TokenGuard(tokenRepo *repositories.TokenRepository, userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		token, err := tokenRepo.GetByHash(c.Request.Context(), auth.HashToken(plaintext))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"kind": "Database", "error": "failed to load token"})
			return
		}
		if token == nil {
			abortUnauthorized(c, "invalid bearer token")
			return
		}
		if token.Expired(time.Now()) {
			abortUnauthorized(c, "bearer token expired")
			return
		}

		user, err := userRepo.GetByID(c.Request.Context(), token.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"kind": "Database", "error": "failed to load user"})
			return
		}
		if user == nil {
			abortUnauthorized(c, "token user no longer exists")
			return
		}

		c.Set(AuthContextKey, &AuthContext{
			Kind:  AuthKindToken,
			User:  user,
			Token: token,
		})
		c.Next()
	}
}
