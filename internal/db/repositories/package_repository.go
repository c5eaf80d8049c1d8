package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/forc-lang/forc-registry/internal/db/models"
)

// PackageRepository handles database operations for packages, their
// versions, and the dependency/category/keyword rows attached to them.
type PackageRepository struct {
	db *sqlx.DB
}

func NewPackageRepository(db *sqlx.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) GetByName(ctx context.Context, name string) (*models.Package, error) {
	var pkg models.Package
	query := `
		SELECT id, user_owner, package_name, default_version, created_at
		FROM packages
		WHERE package_name = $1
	`
	err := r.db.GetContext(ctx, &pkg, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Create inserts a package row as part of a first-version publish.
func (r *PackageRepository) Create(ctx context.Context, tx *sqlx.Tx, pkg *models.Package) error {
	pkg.CreatedAt = time.Now()
	query := `
		INSERT INTO packages (user_owner, package_name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	return tx.QueryRowContext(ctx, query, pkg.UserOwner, pkg.PackageName, pkg.CreatedAt).Scan(&pkg.ID)
}

// CreateVersion inserts a version row. A unique_violation on (package_id,
// num) means this exact version has already been published; the caller
// maps that into apierr.VersionCollision.
func (r *PackageRepository) CreateVersion(ctx context.Context, tx *sqlx.Tx, v *models.PackageVersion) error {
	v.CreatedAt = time.Now()
	query := `
		INSERT INTO package_versions (
			package_id, publish_token, published_by, upload_id, num,
			package_description, repository, documentation, homepage, urls, license, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	return tx.QueryRowContext(ctx, query,
		v.PackageID, v.PublishToken, v.PublishedBy, v.UploadID, v.Num,
		v.PackageDescription, v.Repository, v.Documentation, v.Homepage, pq.Array(v.Urls), v.License, v.CreatedAt,
	).Scan(&v.ID)
}

// SetDefaultVersion unconditionally points the package at a newly
// published version — the registry always serves the latest publish.
func (r *PackageRepository) SetDefaultVersion(ctx context.Context, tx *sqlx.Tx, packageID, versionID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE packages SET default_version = $2 WHERE id = $1`, packageID, versionID)
	return err
}

func (r *PackageRepository) CreateDeps(ctx context.Context, tx *sqlx.Tx, deps []*models.PackageDep) error {
	for _, d := range deps {
		d.CreatedAt = time.Now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO package_deps (dependent_package_version_id, dependency_package_name, dependency_version_req, created_at)
			VALUES ($1, $2, $3, $4)
		`, d.DependentPackageVersionID, d.DependencyPackageName, d.DependencyVersionReq, d.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReplaceCategories removes a package's current categories and inserts the
// set declared by the version just published — categories describe the
// package, not a single version, so the latest publish wins.
func (r *PackageRepository) ReplaceCategories(ctx context.Context, tx *sqlx.Tx, packageID int64, categories []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM package_categories WHERE package_id = $1`, packageID); err != nil {
		return err
	}
	for _, c := range categories {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO package_categories (package_id, category, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (package_id, category) DO NOTHING
		`, packageID, c, time.Now())
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PackageRepository) ReplaceKeywords(ctx context.Context, tx *sqlx.Tx, packageID int64, keywords []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM package_keywords WHERE package_id = $1`, packageID); err != nil {
		return err
	}
	for _, k := range keywords {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO package_keywords (package_id, keyword, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (package_id, keyword) DO NOTHING
		`, packageID, k, time.Now())
		if err != nil {
			return err
		}
	}
	return nil
}

const fullPackageColumns = `
	p.package_name, pv.num, pv.package_description, pv.repository, pv.documentation,
	pv.homepage, pv.license, pv.urls, u.readme, u.forc_version, u.bytecode_identifier,
	u.docs_cid, u.source_cid, u.abi_cid, usr.login,
	pv.created_at AS version_created_at
`

// GetFullPackage returns the package joined with one of its versions (the
// default version when num is empty) plus the upload and publisher that
// produced it.
func (r *PackageRepository) GetFullPackage(ctx context.Context, name, num string) (*models.FullPackage, error) {
	var row struct {
		models.FullPackage
		Urls pq.StringArray `db:"urls"`
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM packages p
		JOIN package_versions pv ON pv.package_id = p.id AND (pv.id = p.default_version OR $2 = '')
		JOIN uploads u ON u.id = pv.upload_id
		JOIN users usr ON usr.id = pv.published_by
		WHERE p.package_name = $1 AND ($2 = '' OR pv.num = $2)
	`, fullPackageColumns)

	err := r.db.GetContext(ctx, &row, query, name, num)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.FullPackage.Urls = []string(row.Urls)
	return &row.FullPackage, nil
}

// ListVersions returns every published version of a package, newest first.
func (r *PackageRepository) ListVersions(ctx context.Context, name string) ([]*models.PackageVersion, error) {
	var versions []*models.PackageVersion
	query := `
		SELECT pv.id, pv.package_id, pv.publish_token, pv.published_by, pv.upload_id, pv.num,
		       pv.package_description, pv.repository, pv.documentation, pv.homepage, pv.urls,
		       pv.license, pv.created_at
		FROM package_versions pv
		JOIN packages p ON p.id = pv.package_id
		WHERE p.package_name = $1
		ORDER BY pv.created_at DESC
	`
	err := r.db.SelectContext(ctx, &versions, query, name)
	return versions, err
}

// GetRecentlyCreated returns the N packages whose first version was
// published most recently.
func (r *PackageRepository) GetRecentlyCreated(ctx context.Context, limit int) ([]*models.FullPackage, error) {
	return r.recentByWindow(ctx, limit, true)
}

// GetRecentlyUpdated returns the N packages whose most recent version was
// published most recently, regardless of when the package itself was
// created.
func (r *PackageRepository) GetRecentlyUpdated(ctx context.Context, limit int) ([]*models.FullPackage, error) {
	return r.recentByWindow(ctx, limit, false)
}

func (r *PackageRepository) recentByWindow(ctx context.Context, limit int, byPackageCreation bool) ([]*models.FullPackage, error) {
	orderColumn := "pv.created_at"
	if byPackageCreation {
		orderColumn = "p.created_at"
	}

	query := fmt.Sprintf(`
		WITH ranked AS (
			SELECT p.package_name, p.created_at AS pkg_created_at, pv.id AS version_id, pv.num,
			       pv.package_description, pv.repository, pv.documentation, pv.homepage, pv.urls,
			       pv.license, pv.created_at AS version_created_at, pv.upload_id, pv.published_by,
			       ROW_NUMBER() OVER (PARTITION BY p.package_name ORDER BY pv.created_at DESC) AS rn
			FROM packages p
			JOIN package_versions pv ON pv.package_id = p.id
		)
		SELECT r.package_name, r.num, r.package_description, r.repository, r.documentation,
		       r.homepage, r.license, r.urls, u.readme, u.forc_version, u.bytecode_identifier,
		       u.docs_cid, u.source_cid, u.abi_cid, usr.login,
		       r.version_created_at
		FROM ranked r
		JOIN uploads u ON u.id = r.upload_id
		JOIN users usr ON usr.id = r.published_by
		WHERE r.rn = 1
		ORDER BY %s DESC
		LIMIT $1
	`, orderColumn)

	var rows []struct {
		models.FullPackage
		Urls pq.StringArray `db:"urls"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	result := make([]*models.FullPackage, len(rows))
	for i := range rows {
		rows[i].FullPackage.Urls = []string(rows[i].Urls)
		result[i] = &rows[i].FullPackage
	}
	return result, nil
}

// ListVersionDetails returns the public version history of a package,
// newest first, with the publisher's login resolved.
func (r *PackageRepository) ListVersionDetails(ctx context.Context, name string) ([]*models.VersionDetail, error) {
	var details []*models.VersionDetail
	query := `
		SELECT pv.num, usr.login, pv.license, pv.created_at
		FROM package_versions pv
		JOIN packages p ON p.id = pv.package_id
		JOIN users usr ON usr.id = pv.published_by
		WHERE p.package_name = $1
		ORDER BY pv.created_at DESC
	`
	err := r.db.SelectContext(ctx, &details, query, name)
	return details, err
}
