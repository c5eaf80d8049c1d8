package models

import "time"

// TokenPrefix is the literal prefix every minted token plaintext carries.
// It is part of the hash input and must never change for existing tokens.
const TokenPrefix = "pub_"

// APIToken is an opaque bearer credential used by the publish client.
// TokenHash is SHA-256 of the plaintext; the plaintext itself is shown to
// the caller exactly once, at creation, and is never persisted.
type APIToken struct {
	ID           int64      `db:"id" json:"id"`
	UserID       int64      `db:"user_id" json:"-"`
	FriendlyName string     `db:"friendly_name" json:"name"`
	TokenHash    string     `db:"token_hash" json:"-"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}

// Expired reports whether the token has passed its expiry instant. Tokens
// with a nil ExpiresAt never expire.
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}
