package models

import (
	"time"

	"github.com/lib/pq"
)

// PackageVersion is immutable after insert. Unique on (package_id, num).
// On insert, the parent Package's default_version is updated to this row
// unconditionally — the registry always serves the most recently published
// version as default, regardless of SemVer ordering.
type PackageVersion struct {
	ID                 int64     `db:"id" json:"id"`
	PackageID          int64     `db:"package_id" json:"-"`
	PublishToken       int64     `db:"publish_token" json:"-"`
	PublishedBy        int64     `db:"published_by" json:"-"`
	UploadID           string    `db:"upload_id" json:"-"`
	Num                string    `db:"num" json:"num"`
	PackageDescription *string   `db:"package_description" json:"description,omitempty"`
	Repository         *string   `db:"repository" json:"repository,omitempty"`
	Documentation      *string   `db:"documentation" json:"documentation,omitempty"`
	Homepage           *string   `db:"homepage" json:"homepage,omitempty"`
	Urls               pq.StringArray `db:"urls" json:"urls,omitempty"`
	License            *string   `db:"license" json:"license,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
}

// VersionDetail is one row of the public version-history listing: the
// version string plus who published it, under which license, and when.
type VersionDetail struct {
	Version   string    `db:"num" json:"version"`
	Author    string    `db:"login" json:"author"`
	License   *string   `db:"license" json:"license,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
