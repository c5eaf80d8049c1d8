// Package manifest parses a forc package's Forc.toml into the metadata the
// publish orchestrator needs: the package identity, its declared
// dependencies, and the free-text taxonomy (categories/keywords) attached to
// the owning Package row on every publish.
package manifest

import (
	"fmt"

	"github.com/pelletier/go-toml"

	"github.com/forc-lang/forc-registry/internal/apierr"
)

// Manifest is the subset of Forc.toml fields the registry cares about.
// Workspace manifests (a [workspace] table with no [project]) are rejected;
// only package manifests can be published at this time.
type Manifest struct {
	Project struct {
		Name          string   `toml:"name"`
		Version       string   `toml:"version"`
		Description   string   `toml:"description"`
		Repository    string   `toml:"repository"`
		Documentation string   `toml:"documentation"`
		Homepage      string   `toml:"homepage"`
		License       string   `toml:"license"`
		Categories    []string `toml:"categories"`
		Keywords      []string `toml:"keywords"`
	} `toml:"project"`

	Workspace    map[string]any `toml:"workspace"`
	Dependencies map[string]Dep `toml:"dependencies"`
}

// Dep is one entry in the [dependencies] table. Forc allows a dependency to
// be declared as a bare version-requirement string or as an inline table
// with a "version" key (plus git/path fields the registry does not resolve);
// UnmarshalTOML normalizes both shapes into VersionReq.
type Dep struct {
	VersionReq string
}

func (d *Dep) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		d.VersionReq = v
		return nil
	case map[string]any:
		if ver, ok := v["version"].(string); ok {
			d.VersionReq = ver
			return nil
		}
		// git/path dependencies with no pinned version requirement are
		// recorded with an empty requirement; dependency-existence
		// checking only validates named-version requirements so this is
		// not itself an error.
		d.VersionReq = ""
		return nil
	default:
		return fmt.Errorf("unsupported dependency value type %T", value)
	}
}

// Parse decodes raw Forc.toml text and rejects workspace manifests.
func Parse(raw string) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal([]byte(raw), &m); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidForcManifest, 400, "parse Forc.toml", err)
	}

	if len(m.Workspace) > 0 && m.Project.Name == "" {
		return nil, apierr.New(apierr.KindInvalidForcManifest, 400, "workspace manifests are not accepted by publish")
	}
	if m.Project.Name == "" {
		return nil, apierr.New(apierr.KindInvalidForcManifest, 400, "Forc.toml missing [project] name")
	}
	if m.Project.Version == "" {
		return nil, apierr.New(apierr.KindInvalidForcManifest, 400, "Forc.toml missing [project] version")
	}

	return &m, nil
}

// OptionalString returns nil for an empty string so model fields that are
// nullable in the database stay unset rather than storing "".
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
