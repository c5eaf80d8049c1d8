package models

import "time"

// PackageCategory tags a Package with one taxonomy entry from its manifest.
// Categories attach to the package as a whole, not to a single version.
type PackageCategory struct {
	ID        int64     `db:"id" json:"-"`
	PackageID int64     `db:"package_id" json:"-"`
	Category  string    `db:"category" json:"category"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}
