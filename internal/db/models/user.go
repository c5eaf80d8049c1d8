package models

import "time"

// User is created on first GitHub OAuth login and updated in place on
// subsequent logins. Lifetime is permanent — users are never deleted by
// the core.
type User struct {
	ID        int64     `db:"id" json:"id"`
	GitHubID  int64     `db:"github_id" json:"-"`
	Login     string    `db:"login" json:"login"`
	FullName  string    `db:"full_name" json:"fullName"`
	AvatarURL *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	IsAdmin   bool      `db:"is_admin" json:"isAdmin"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
