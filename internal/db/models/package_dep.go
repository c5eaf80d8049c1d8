package models

import "time"

// PackageDep is one dependency edge declared by a published version's
// manifest. It references the dependency by name and version requirement
// only — not by a foreign key to Package — since the dependency need not
// exist in the registry yet (or ever) for the edge to be recorded.
type PackageDep struct {
	ID                        int64     `db:"id" json:"-"`
	DependentPackageVersionID int64     `db:"dependent_package_version_id" json:"-"`
	DependencyPackageName     string    `db:"dependency_package_name" json:"name"`
	DependencyVersionReq      string    `db:"dependency_version_req" json:"versionReq"`
	CreatedAt                 time.Time `db:"created_at" json:"-"`
}
