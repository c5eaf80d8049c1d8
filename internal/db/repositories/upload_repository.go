package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/forc-lang/forc-registry/internal/db/models"
)

// UploadRepository handles upload database operations. Uploads are written
// once, inside the publish transaction, and are never modified afterward.
type UploadRepository struct {
	db *sqlx.DB
}

func NewUploadRepository(db *sqlx.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create inserts an upload row using the transaction handed down by the
// publish orchestrator — uploads only ever exist as part of a publish.
func (r *UploadRepository) Create(ctx context.Context, tx *sqlx.Tx, upload *models.Upload) error {
	upload.CreatedAt = time.Now()
	query := `
		INSERT INTO uploads (
			id, source_cid, forc_version, abi_cid, bytecode_identifier,
			readme, forc_manifest, docs_cid, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.ExecContext(ctx, query,
		upload.ID, upload.SourceCID, upload.ForcVersion, upload.ABICID, upload.BytecodeIdentifier,
		upload.Readme, upload.ForcManifest, upload.DocsCID, upload.CreatedAt,
	)
	return err
}

func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	var upload models.Upload
	query := `
		SELECT id, source_cid, forc_version, abi_cid, bytecode_identifier,
		       readme, forc_manifest, docs_cid, created_at
		FROM uploads
		WHERE id = $1
	`
	err := r.db.GetContext(ctx, &upload, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}
