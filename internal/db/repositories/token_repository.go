package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/forc-lang/forc-registry/internal/db/models"
)

// TokenRepository handles API token database operations. The plaintext
// token is never stored; callers pass in TokenHash already computed.
// Mint and revoke run on the caller's transaction.
type TokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, tx *sqlx.Tx, token *models.APIToken) error {
	token.CreatedAt = time.Now()
	query := `
		INSERT INTO api_tokens (user_id, friendly_name, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return tx.QueryRowContext(ctx, query,
		token.UserID, token.FriendlyName, token.TokenHash, token.ExpiresAt, token.CreatedAt,
	).Scan(&token.ID)
}

// GetByHash looks up the token owning a given SHA-256 hash. Used on every
// bearer-authenticated request, so the hash column carries a unique index.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*models.APIToken, error) {
	var token models.APIToken
	query := `
		SELECT id, user_id, friendly_name, token_hash, expires_at, created_at
		FROM api_tokens
		WHERE token_hash = $1
	`
	err := r.db.GetContext(ctx, &token, query, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *TokenRepository) ListByUser(ctx context.Context, userID int64) ([]*models.APIToken, error) {
	var tokens []*models.APIToken
	query := `
		SELECT id, user_id, friendly_name, token_hash, expires_at, created_at
		FROM api_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	err := r.db.SelectContext(ctx, &tokens, query, userID)
	return tokens, err
}

// Revoke deletes a token, scoped to its owner so a user can never revoke
// someone else's token by guessing an id.
func (r *TokenRepository) Revoke(ctx context.Context, tx *sqlx.Tx, id, userID int64) (bool, error) {
	result, err := tx.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
