package models

import "time"

// Upload is produced once per successful upload_project build and is
// immutable thereafter. SourceCID, ABICID and DocsCID are blob-store content
// identifiers; DocsCID and ABICID may be absent (a library package has no
// ABI, and documentation generation is best-effort).
type Upload struct {
	ID                  string    `db:"id" json:"id"`
	SourceCID           string    `db:"source_cid" json:"sourceCid"`
	ForcVersion         string    `db:"forc_version" json:"forcVersion"`
	ABICID              *string   `db:"abi_cid" json:"abiCid,omitempty"`
	BytecodeIdentifier  *string   `db:"bytecode_identifier" json:"bytecodeIdentifier,omitempty"`
	Readme              *string   `db:"readme" json:"-"`
	ForcManifest        string    `db:"forc_manifest" json:"-"`
	DocsCID             *string   `db:"docs_cid" json:"docsCid,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
}
