package manifest

import (
	"errors"
	"testing"

	"github.com/forc-lang/forc-registry/internal/apierr"
)

func TestParse_PackageManifest(t *testing.T) {
	raw := `
[project]
name = "foo"
version = "0.1.0"
description = "an example package"
repository = "https://github.com/example/foo"
license = "Apache-2.0"
categories = ["web3", "defi"]
keywords = ["ethereum"]

[dependencies]
std = "0.66.0"
core = { version = "^0.1.0" }
local_dep = { path = "../local" }
`

	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Project.Name != "foo" || m.Project.Version != "0.1.0" {
		t.Errorf("unexpected project: %+v", m.Project)
	}
	if len(m.Project.Categories) != 2 || m.Project.Categories[0] != "web3" {
		t.Errorf("categories not parsed: %v", m.Project.Categories)
	}
	if m.Dependencies["std"].VersionReq != "0.66.0" {
		t.Errorf("bare-string dependency not parsed: %+v", m.Dependencies["std"])
	}
	if m.Dependencies["core"].VersionReq != "^0.1.0" {
		t.Errorf("inline-table dependency not parsed: %+v", m.Dependencies["core"])
	}
	if m.Dependencies["local_dep"].VersionReq != "" {
		t.Errorf("path dependency should have empty requirement: %+v", m.Dependencies["local_dep"])
	}
}

func TestParse_WorkspaceRejected(t *testing.T) {
	raw := `
[workspace]
members = ["foo", "bar"]
`
	_, err := Parse(raw)

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindInvalidForcManifest {
		t.Fatalf("expected InvalidForcManifest, got %v", err)
	}
}

func TestParse_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no project table", `[dependencies]`},
		{"missing name", "[project]\nversion = \"0.1.0\"\n"},
		{"missing version", "[project]\nname = \"foo\"\n"},
		{"invalid toml", "not toml at all ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			var apiErr *apierr.Error
			if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindInvalidForcManifest {
				t.Errorf("expected InvalidForcManifest, got %v", err)
			}
		})
	}
}

func TestOptionalString(t *testing.T) {
	if OptionalString("") != nil {
		t.Error("empty string should map to nil")
	}
	if v := OptionalString("x"); v == nil || *v != "x" {
		t.Errorf("unexpected value: %v", v)
	}
}
