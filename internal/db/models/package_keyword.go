package models

import "time"

// PackageKeyword is one free-text search term from a manifest, attached to
// the package as a whole. Used by the trigram similarity search alongside
// package_name and package_description.
type PackageKeyword struct {
	ID        int64     `db:"id" json:"-"`
	PackageID int64     `db:"package_id" json:"-"`
	Keyword   string    `db:"keyword" json:"keyword"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}
