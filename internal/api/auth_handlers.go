package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/auth"
	"github.com/forc-lang/forc-registry/internal/auth/githuboauth"
	"github.com/forc-lang/forc-registry/internal/db/models"
	"github.com/forc-lang/forc-registry/internal/middleware"
)

// CodeExchanger is the OAuth step the login handler depends on;
// *githuboauth.Exchanger satisfies it and tests substitute a fake.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*githuboauth.Profile, error)
}

type loginRequest struct {
	Code string `json:"code" binding:"required"`
}

// loginHandler exchanges a GitHub authorization code for a local session:
// the user row is created or refreshed and a new session is inserted, both
// in one transaction, then the session id rides back as the fp_session
// cookie as well as in the body for non-browser clients.
func (h *Handlers) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "InvalidRequest", "error": "missing oauth code"})
		return
	}

	profile, err := h.OAuth.Exchange(c.Request.Context(), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	user := &models.User{
		GitHubID: profile.ID,
		Login:    profile.Login,
		FullName: profile.Name,
	}
	if profile.AvatarURL != "" {
		user.AvatarURL = &profile.AvatarURL
	}
	if profile.Email != "" {
		user.Email = &profile.Email
	}

	session := &models.Session{
		ID:        uuid.New().String(),
		ExpiresAt: time.Now().Add(h.SessionTTL),
	}

	err = h.Tx.WithTransaction(c.Request.Context(), func(tx *sqlx.Tx) error {
		if err := h.Users.UpsertFromGitHub(c.Request.Context(), tx, user); err != nil {
			return err
		}
		session.UserID = user.ID
		return h.Sessions.Create(c.Request.Context(), tx, session)
	})
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, session.ID, int(h.SessionTTL.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{
		"user":      user,
		"sessionId": session.ID,
	})
}

// logoutHandler removes the session row; the cookie is expired client-side.
func (h *Handlers) logoutHandler(c *gin.Context) {
	ac := middleware.GetAuthContext(c)

	err := h.Tx.WithTransaction(c.Request.Context(), func(tx *sqlx.Tx) error {
		return h.Sessions.Delete(c.Request.Context(), tx, ac.Session.ID)
	})
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}

	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handlers) userHandler(c *gin.Context) {
	ac := middleware.GetAuthContext(c)
	c.JSON(http.StatusOK, gin.H{"user": ac.User})
}

type newTokenRequest struct {
	Name string `json:"name" binding:"required"`
}

// newTokenHandler mints an API token. The response carries the plaintext —
// this is the only time it ever leaves the server; storage keeps the
// SHA-256 hash alone.
func (h *Handlers) newTokenHandler(c *gin.Context) {
	var req newTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "InvalidRequest", "error": "missing token name"})
		return
	}

	ac := middleware.GetAuthContext(c)

	plaintext, hash, err := auth.GenerateToken()
	if err != nil {
		respondError(c, err)
		return
	}

	token := &models.APIToken{
		UserID:       ac.User.ID,
		FriendlyName: req.Name,
		TokenHash:    hash,
	}
	err = h.Tx.WithTransaction(c.Request.Context(), func(tx *sqlx.Tx) error {
		return h.Tokens.Create(c.Request.Context(), tx, token)
	})
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": gin.H{
			"id":        token.ID,
			"name":      token.FriendlyName,
			"createdAt": token.CreatedAt,
			"token":     plaintext,
		},
	})
}

func (h *Handlers) deleteTokenHandler(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "InvalidRequest", "error": "invalid token id"})
		return
	}

	ac := middleware.GetAuthContext(c)

	var revoked bool
	err = h.Tx.WithTransaction(c.Request.Context(), func(tx *sqlx.Tx) error {
		var txErr error
		revoked, txErr = h.Tokens.Revoke(c.Request.Context(), tx, id, ac.User.ID)
		return txErr
	})
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}
	if !revoked {
		respondError(c, apierr.NotFound("token not found"))
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handlers) listTokensHandler(c *gin.Context) {
	ac := middleware.GetAuthContext(c)

	tokens, err := h.Tokens.ListByUser(c.Request.Context(), ac.User.ID)
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}
