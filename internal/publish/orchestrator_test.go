package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/archive"
	"github.com/forc-lang/forc-registry/internal/db/models"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
	"github.com/forc-lang/forc-registry/internal/index"
	"github.com/forc-lang/forc-registry/internal/manifest"
	"github.com/forc-lang/forc-registry/internal/toolchain"
)

const testManifest = `[project]
name = "foo"
version = "0.1.0"
description = "an example package"
license = "Apache-2.0"
categories = ["web3"]
keywords = ["ethereum"]
`

// fakePinner hands back deterministic CIDs and remembers what was pinned.
type fakePinner struct {
	mu     sync.Mutex
	pinned []string
	fail   error
}

func (p *fakePinner) Pin(_ context.Context, path string, r io.Reader, _ int64) (string, error) {
	if p.fail != nil {
		return "", p.fail
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned = append(p.pinned, path)
	return "cid-" + path, nil
}

func (p *fakePinner) Fetch(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

// fakeIndex records publishes and can be programmed to fail.
type fakeIndex struct {
	mu      sync.Mutex
	entries []index.PackageEntry
	fail    error
}

func (f *fakeIndex) Publish(_ string, entry index.PackageEntry) error {
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock, *fakePinner, *fakeIndex) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")

	pinner := &fakePinner{}
	idx := &fakeIndex{}
	workDir := t.TempDir()

	o := &Orchestrator{
		Pinner:            pinner,
		Sandbox:           newFakeSandbox(t),
		Processor:         archive.NewProcessor(workDir),
		Index:             idx,
		Tx:                repositories.NewTransactor(sqlxDB),
		Uploads:           repositories.NewUploadRepository(sqlxDB),
		Packages:          repositories.NewPackageRepository(sqlxDB),
		HeartbeatInterval: 50 * time.Millisecond,
	}
	return o, mock, pinner, idx
}

// newFakeSandbox pre-installs a stub forc binary so EnsureInstalled finds
// it without touching the network and Build/Doc exit zero immediately.
func newFakeSandbox(t *testing.T) *toolchain.Sandbox {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub forc binary requires a POSIX shell")
	}

	installDir := t.TempDir()
	binDir := filepath.Join(installDir, "forc-0.66.0", "bin")
	if err := os.MkdirAll(binDir, 0o750); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(filepath.Join(binDir, "forc"), script, 0o750); err != nil {
		t.Fatalf("write stub forc: %v", err)
	}

	return toolchain.NewSandbox(installDir, "http://invalid.test/{version}/{os}/{arch}", time.Minute, time.Minute)
}

func makeProjectTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func collectEvents() (func(Event), *[]Event, *sync.Mutex) {
	var mu sync.Mutex
	var events []Event
	emit := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	return emit, &events, &mu
}

func TestUploadProject_Success(t *testing.T) {
	o, mock, pinner, _ := newTestOrchestrator(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO uploads").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tarball := makeProjectTarball(t, map[string]string{
		"Forc.toml":   testManifest,
		"src/main.sw": "library;\n",
		"README.md":   "# foo\n",
	})

	emit, events, mu := collectEvents()
	upload, err := o.UploadProject(context.Background(), "v0.66.0", bytes.NewReader(tarball), int64(len(tarball)), emit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if upload.ForcVersion != "0.66.0" {
		t.Errorf("forc version not normalized: %q", upload.ForcVersion)
	}
	if upload.SourceCID != "cid-project.tgz" {
		t.Errorf("unexpected source cid: %q", upload.SourceCID)
	}
	if upload.ABICID != nil {
		t.Errorf("library package should have no ABI cid, got %v", *upload.ABICID)
	}
	if upload.Readme == nil || *upload.Readme != "# foo\n" {
		t.Errorf("readme not captured: %v", upload.Readme)
	}
	if upload.ForcManifest != testManifest {
		t.Errorf("manifest not captured")
	}

	pinner.mu.Lock()
	pinCount := len(pinner.pinned)
	pinner.mu.Unlock()
	if pinCount != 1 {
		t.Errorf("expected exactly the source tarball pinned, got %v", pinner.pinned)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*events) == 0 {
		t.Error("no progress events emitted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet db expectations: %v", err)
	}
}

func TestUploadProject_TooLarge(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	emit, _, _ := collectEvents()
	_, err := o.UploadProject(context.Background(), "0.66.0", bytes.NewReader(nil), archive.MaxArchiveSize+1, emit)

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindTooLarge {
		t.Fatalf("expected TooLarge, got %v", err)
	}
}

func TestUploadProject_InvalidForcVersion(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	emit, _, _ := collectEvents()
	for _, raw := range []string{"", "1.2", "abc"} {
		_, err := o.UploadProject(context.Background(), raw, bytes.NewReader(nil), 16, emit)
		var apiErr *apierr.Error
		if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindInvalidForcVersion {
			t.Errorf("version %q: expected InvalidForcVersion, got %v", raw, err)
		}
	}
}

func TestUploadProject_MissingManifest(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	tarball := makeProjectTarball(t, map[string]string{
		"src/main.sw": "library;\n",
	})

	emit, _, _ := collectEvents()
	_, err := o.UploadProject(context.Background(), "0.66.0", bytes.NewReader(tarball), int64(len(tarball)), emit)

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindMissingForcManifest {
		t.Fatalf("expected MissingForcManifest, got %v", err)
	}
}

func uploadRows(manifestText string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "source_cid", "forc_version", "abi_cid", "bytecode_identifier",
		"readme", "forc_manifest", "docs_cid", "created_at",
	}).AddRow("upload-1", "cid-src", "0.66.0", nil, nil, nil, manifestText, nil, time.Now())
}

func testToken() *models.APIToken {
	return &models.APIToken{ID: 5, UserID: 7, FriendlyName: "ci"}
}

func TestPublish_FreshPublish(t *testing.T) {
	o, mock, _, idx := newTestOrchestrator(t)

	mock.ExpectQuery("SELECT.*FROM uploads").WithArgs("upload-1").WillReturnRows(uploadRows(testManifest))
	mock.ExpectQuery("SELECT.*FROM packages").WithArgs("foo").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_owner", "package_name", "default_version", "created_at"}))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM packages").WithArgs("foo").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_owner", "package_name", "default_version", "created_at"}))
	mock.ExpectQuery("INSERT INTO packages").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO package_versions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec("UPDATE packages SET default_version").
		WithArgs(int64(1), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM package_categories").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO package_categories").
		WithArgs(int64(1), "web3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM package_keywords").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO package_keywords").
		WithArgs(int64(1), "ethereum", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	resp, err := o.Publish(context.Background(), testToken(), PublishRequest{UploadID: "upload-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Name != "foo" || resp.Version != "0.1.0" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if len(idx.entries) != 1 {
		t.Fatalf("expected one index entry, got %d", len(idx.entries))
	}
	if idx.entries[0].SourceCID != "cid-src" || idx.entries[0].Version != "0.1.0" {
		t.Errorf("unexpected index entry: %+v", idx.entries[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet db expectations: %v", err)
	}
}

func TestPublish_OwnerMismatch(t *testing.T) {
	o, mock, _, idx := newTestOrchestrator(t)

	mock.ExpectQuery("SELECT.*FROM uploads").WithArgs("upload-1").WillReturnRows(uploadRows(testManifest))
	otherOwner := sqlmock.NewRows([]string{"id", "user_owner", "package_name", "default_version", "created_at"}).
		AddRow(int64(1), int64(99), "foo", nil, time.Now())
	mock.ExpectQuery("SELECT.*FROM packages").WithArgs("foo").WillReturnRows(otherOwner)

	_, err := o.Publish(context.Background(), testToken(), PublishRequest{UploadID: "upload-1"})

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindInvalidPublishToken {
		t.Fatalf("expected InvalidPublishToken, got %v", err)
	}
	if len(idx.entries) != 0 {
		t.Errorf("index touched by rejected publish: %+v", idx.entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet db expectations: %v", err)
	}
}

func TestPublish_IndexCollisionSkipsDatabase(t *testing.T) {
	o, mock, _, idx := newTestOrchestrator(t)
	idx.fail = apierr.VersionCollision("foo", "0.1.0")

	mock.ExpectQuery("SELECT.*FROM uploads").WithArgs("upload-1").WillReturnRows(uploadRows(testManifest))
	mock.ExpectQuery("SELECT.*FROM packages").WithArgs("foo").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_owner", "package_name", "default_version", "created_at"}))

	_, err := o.Publish(context.Background(), testToken(), PublishRequest{UploadID: "upload-1"})

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindVersionCollision {
		t.Fatalf("expected VersionCollision, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("database touched after index collision: %v", err)
	}
}

func TestPublish_MissingDependency(t *testing.T) {
	o, mock, _, _ := newTestOrchestrator(t)

	withDep := testManifest + "\n[dependencies]\nmissing = \"1.0.0\"\n"
	mock.ExpectQuery("SELECT.*FROM uploads").WithArgs("upload-1").WillReturnRows(uploadRows(withDep))
	mock.ExpectQuery("SELECT.*FROM package_versions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "package_id", "publish_token", "published_by", "upload_id", "num",
			"package_description", "repository", "documentation", "homepage", "urls", "license", "created_at",
		}))

	_, err := o.Publish(context.Background(), testToken(), PublishRequest{UploadID: "upload-1"})

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindInvalidForcManifest {
		t.Fatalf("expected InvalidForcManifest, got %v", err)
	}
}

func TestPublish_LocalModeSkipsIndex(t *testing.T) {
	o, mock, _, idx := newTestOrchestrator(t)
	o.Local = true
	idx.fail = errors.New("index must not be called in local mode")

	mock.ExpectQuery("SELECT.*FROM uploads").WithArgs("upload-1").WillReturnRows(uploadRows(testManifest))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT.*FROM packages").WithArgs("foo").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_owner", "package_name", "default_version", "created_at"}))
	mock.ExpectQuery("INSERT INTO packages").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO package_versions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec("UPDATE packages SET default_version").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM package_categories").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO package_categories").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM package_keywords").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO package_keywords").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	resp, err := o.Publish(context.Background(), testToken(), PublishRequest{UploadID: "upload-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Name != "foo" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSortedDeps_Deterministic(t *testing.T) {
	raw := testManifest + "\n[dependencies]\nzeta = \"1.0.0\"\nalpha = \"0.5.0\"\nmid = { version = \"2.0.0\" }\n"
	parsed, err := manifest.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	deps := sortedDeps(parsed)
	if len(deps) != 3 {
		t.Fatalf("expected 3 deps, got %d", len(deps))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if deps[i].name != want {
			t.Errorf("deps[%d] = %q, want %q", i, deps[i].name, want)
		}
	}
	if deps[1].versionReq != "2.0.0" {
		t.Errorf("inline-table version not normalized: %q", deps[1].versionReq)
	}
}

func TestNormalizeConstraint(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"^1.2.3", ">=1.2.3, <2.0.0"},
		{"^0.1.0", ">=0.1.0, <0.2.0"},
		{"^0.0.3", ">=0.0.3, <0.0.4"},
		{">=1.0.0", ">=1.0.0"},
		{"0.2.0", "0.2.0"},
	}
	for _, tt := range tests {
		if got := normalizeConstraint(tt.in); got != tt.want {
			t.Errorf("normalizeConstraint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
