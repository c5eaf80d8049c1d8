package models

import "time"

// Session backs the `fp_session` cookie. The session id is the cookie
// value itself and must be treated as a secret — it is never logged.
type Session struct {
	ID        string    `db:"id" json:"sessionId"`
	UserID    int64     `db:"user_id" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

// Expired reports whether the session has passed its expiry instant.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
