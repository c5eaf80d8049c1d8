package models

import "time"

// Package is created lazily on the first version publish. UserOwner is the
// publisher of the first version; subsequent publishes by any other user
// must be rejected as InvalidPublishToken.
type Package struct {
	ID              int64     `db:"id" json:"id"`
	UserOwner       int64     `db:"user_owner" json:"-"`
	PackageName     string    `db:"package_name" json:"name"`
	DefaultVersion  *int64    `db:"default_version" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// PackagePreview is the shape returned by the search endpoint: enough to
// render a result card without the full version history.
type PackagePreview struct {
	Name        string   `db:"package_name" json:"name"`
	Description *string  `db:"package_description" json:"description,omitempty"`
	Version     string   `db:"num" json:"version"`
	Keywords    []string `db:"-" json:"keywords,omitempty"`
	Categories  []string `db:"-" json:"categories,omitempty"`
}

// FullPackage joins a package with its default (or requested) version and
// the upload that produced it. Returned by /package and /packages. The
// gateway URL fields are derived from the CIDs at response time; they are
// never stored.
type FullPackage struct {
	Name               string    `db:"package_name" json:"name"`
	Version            string    `db:"num" json:"version"`
	Description        *string   `db:"package_description" json:"description,omitempty"`
	Repository         *string   `db:"repository" json:"repository,omitempty"`
	Documentation      *string   `db:"documentation" json:"documentation,omitempty"`
	Homepage           *string   `db:"homepage" json:"homepage,omitempty"`
	License            *string   `db:"license" json:"license,omitempty"`
	Urls               []string  `db:"-" json:"urls,omitempty"`
	Readme             *string   `db:"readme" json:"readme,omitempty"`
	ForcVersion        string    `db:"forc_version" json:"forcVersion"`
	BytecodeIdentifier *string   `db:"bytecode_identifier" json:"bytecodeIdentifier,omitempty"`
	DocsCID            *string   `db:"docs_cid" json:"docsCid,omitempty"`
	SourceCID          string    `db:"source_cid" json:"sourceCid"`
	ABICID             *string   `db:"abi_cid" json:"abiCid,omitempty"`
	SourceCodeIpfsURL  string    `db:"-" json:"sourceCodeIpfsUrl,omitempty"`
	ABIIpfsURL         *string   `db:"-" json:"abiIpfsUrl,omitempty"`
	PublishedBy        string    `db:"login" json:"publishedBy"`
	CreatedAt          time.Time `db:"version_created_at" json:"createdAt"`
}
