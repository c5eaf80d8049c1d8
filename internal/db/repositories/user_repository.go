package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/forc-lang/forc-registry/internal/db/models"
)

// UserRepository handles user database operations.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByGitHubID retrieves a user by their GitHub numeric id, or (nil, nil)
// if no such user has logged in before.
func (r *UserRepository) GetByGitHubID(ctx context.Context, githubID int64) (*models.User, error) {
	var user models.User
	query := `
		SELECT id, github_id, login, full_name, avatar_url, email, is_admin, created_at
		FROM users
		WHERE github_id = $1
	`
	err := r.db.GetContext(ctx, &user, query, githubID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := `
		SELECT id, github_id, login, full_name, avatar_url, email, is_admin, created_at
		FROM users
		WHERE id = $1
	`
	err := r.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertFromGitHub implements the login upsert as a single atomic
// statement keyed on github_id: first sight inserts the row, subsequent
// logins refresh the profile fields GitHub may have changed. Two
// concurrent first logins for the same github_id both resolve to the one
// row instead of racing a SELECT-then-INSERT. Runs on the login
// transaction so the session insert that follows commits with it.
func (r *UserRepository) UpsertFromGitHub(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	query := `
		INSERT INTO users (github_id, login, full_name, avatar_url, email, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (github_id) DO UPDATE
		SET login = EXCLUDED.login,
		    full_name = EXCLUDED.full_name,
		    avatar_url = EXCLUDED.avatar_url,
		    email = EXCLUDED.email
		RETURNING id, is_admin, created_at
	`
	return tx.QueryRowContext(ctx, query,
		user.GitHubID, user.Login, user.FullName, user.AvatarURL, user.Email, time.Now(),
	).Scan(&user.ID, &user.IsAdmin, &user.CreatedAt)
}
