// Package api wires the registry's HTTP surface: the browser session flow
// (login, tokens), the token-authenticated publish pipeline, and the
// unauthenticated query endpoints compile clients and the web UI read.
//
// Route grouping philosophy: routes are grouped by the guard they run
// under, not by resource. Session-guarded routes serve the web UI; the
// token-guarded routes serve the forc publish client; everything else is
// public and read-only.
package api

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forc-lang/forc-registry/internal/audit"
	"github.com/forc-lang/forc-registry/internal/config"
	"github.com/forc-lang/forc-registry/internal/db/models"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
	"github.com/forc-lang/forc-registry/internal/middleware"
	"github.com/forc-lang/forc-registry/internal/publish"
)

// PublishOrchestrator is the slice of the publish pipeline the handlers
// call; *publish.Orchestrator satisfies it and tests substitute fakes.
type PublishOrchestrator interface {
	UploadProject(ctx context.Context, forcVersionRaw string, body io.Reader, declaredSize int64, emit func(publish.Event)) (*models.Upload, error)
	Publish(ctx context.Context, token *models.APIToken, req publish.PublishRequest) (*publish.PublishResponse, error)
}

// Handlers carries every dependency the route handlers touch. It is built
// once in cmd/server and handed to NewRouter.
type Handlers struct {
	Users    *repositories.UserRepository
	Sessions *repositories.SessionRepository
	Tokens   *repositories.TokenRepository
	Packages *repositories.PackageRepository
	Tx       *repositories.Transactor

	OAuth        CodeExchanger
	Orchestrator PublishOrchestrator
	SessionTTL   time.Duration

	// GatewayURL is the public IPFS gateway CIDs are rendered against in
	// package responses.
	GatewayURL string
}

// RouterOptions groups the cross-cutting pieces (CORS policy, audit
// shipper, rate limiting) that shape the middleware chain.
type RouterOptions struct {
	CORSOrigin       string
	RateLimitEnabled bool
	AuditShipper     audit.Shipper
}

// OptionsFromConfig derives RouterOptions from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, shipper audit.Shipper) RouterOptions {
	origin := ""
	if len(cfg.Security.CORS.AllowedOrigins) > 0 {
		origin = cfg.Security.CORS.AllowedOrigins[0]
	}
	return RouterOptions{
		CORSOrigin:       origin,
		RateLimitEnabled: cfg.Security.RateLimit.Enabled,
		AuditShipper:     shipper,
	}
}

// NewRouter assembles the middleware chain and route table.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigin: opts.CORSOrigin}))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.AuditMiddleware(opts.AuditShipper))

	sessionGuard := middleware.SessionGuard(h.Sessions, h.Users)
	tokenGuard := middleware.TokenGuard(h.Tokens, h.Users)

	loginChain := []gin.HandlerFunc{h.loginHandler}
	uploadChain := []gin.HandlerFunc{tokenGuard, h.uploadProjectHandler}
	if opts.RateLimitEnabled {
		authLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
		uploadLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())
		loginChain = append([]gin.HandlerFunc{middleware.RateLimitMiddleware(authLimiter)}, loginChain...)
		uploadChain = append([]gin.HandlerFunc{middleware.RateLimitMiddleware(uploadLimiter)}, uploadChain...)
	}

	// Browser session flow.
	router.POST("/login", loginChain...)
	router.POST("/logout", sessionGuard, h.logoutHandler)
	router.GET("/user", sessionGuard, h.userHandler)
	router.POST("/new_token", sessionGuard, h.newTokenHandler)
	router.DELETE("/token/:id", sessionGuard, h.deleteTokenHandler)
	router.GET("/tokens", sessionGuard, h.listTokensHandler)

	// Publish client flow.
	router.POST("/upload_project", uploadChain...)
	router.POST("/publish", tokenGuard, h.publishHandler)

	// Public query surface.
	router.GET("/packages", h.listPackagesHandler)
	router.GET("/package", h.getPackageHandler)
	router.GET("/package/versions", h.packageVersionsHandler)
	router.GET("/recent_packages", h.recentPackagesHandler)
	router.GET("/search", h.searchHandler)
	router.GET("/health", h.healthHandler)

	return router
}
