// Package publish orchestrates the two halves of shipping a package to the
// registry: upload_project (unpack, build, pin, record an Upload) and
// publish (validate the manifest, write the index entry, then commit the
// version rows). The index write always linearizes before the database
// transaction so an observer that sees the version row can rely on the
// index entry existing.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goversion "github.com/hashicorp/go-version"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/archive"
	"github.com/forc-lang/forc-registry/internal/blob"
	"github.com/forc-lang/forc-registry/internal/db/models"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
	"github.com/forc-lang/forc-registry/internal/index"
	"github.com/forc-lang/forc-registry/internal/manifest"
	"github.com/forc-lang/forc-registry/internal/telemetry"
	"github.com/forc-lang/forc-registry/internal/toolchain"
	"github.com/forc-lang/forc-registry/internal/validation"
)

// Event is one server-sent progress notification during upload_project.
// Exactly one terminal event is emitted per upload: UploadID on success,
// Kind+Error on failure.
type Event struct {
	Status   string `json:"status,omitempty"`
	UploadID string `json:"uploadId,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// IndexPublisher is the slice of the git index publisher the orchestrator
// needs; *index.Publisher satisfies it in production and tests substitute
// a recording fake.
type IndexPublisher interface {
	Publish(name string, entry index.PackageEntry) error
}

// Orchestrator wires the archive processor, toolchain sandbox, blob
// pinner, index publisher, and repository layer into the publish flows.
type Orchestrator struct {
	Pinner    blob.Pinner
	Sandbox   *toolchain.Sandbox
	Processor *archive.Processor
	Index     IndexPublisher
	Tx        *repositories.Transactor
	Uploads   *repositories.UploadRepository
	Packages  *repositories.PackageRepository

	// Local disables the index publish step; the blob pinner applies its
	// own local-mode handling for the mirror.
	Local bool

	// HeartbeatInterval defaults to one second — the minimum event rate
	// clients are promised during blocking stages.
	HeartbeatInterval time.Duration
}

func (o *Orchestrator) heartbeatInterval() time.Duration {
	if o.HeartbeatInterval > 0 {
		return o.HeartbeatInterval
	}
	return time.Second
}

// UploadProject runs the staged upload pipeline, emitting progress events
// (including at least one heartbeat per second during blocking stages) and
// returning the recorded Upload. The caller owns terminal-event emission:
// any returned error must be translated into an err event, and a returned
// Upload into the final {uploadId} event.
func (o *Orchestrator) UploadProject(ctx context.Context, forcVersionRaw string, body io.Reader, declaredSize int64, emit func(Event)) (*models.Upload, error) {
	if declaredSize > archive.MaxArchiveSize {
		return nil, apierr.New(apierr.KindTooLarge, 400, "upload exceeds 10 MiB")
	}

	forcVersion, err := validation.NormalizeForcVersion(forcVersionRaw)
	if err != nil {
		return nil, err
	}

	// One goroutine heartbeats for the lifetime of the pipeline; stage
	// names are swapped in as the pipeline advances so clients see what
	// the server is blocked on.
	var stage atomic.Value
	stage.Store("starting")
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(o.heartbeatInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				emit(Event{Status: stage.Load().(string)})
			case <-stop:
				return
			}
		}
	}()

	setStage := func(s string) {
		stage.Store(s)
		emit(Event{Status: s})
	}

	setStage("installing toolchain " + forcVersion)
	installStart := time.Now()
	binDir, err := o.Sandbox.EnsureInstalled(ctx, forcVersion)
	telemetry.PublishStageDuration.WithLabelValues("toolchain_install").Observe(time.Since(installStart).Seconds())
	if err != nil {
		return nil, err
	}

	uploadID := uuid.New().String()

	setStage("saving archive")
	tarballPath, err := o.persistTarball(body, declaredSize)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tarballPath)

	setStage("unpacking archive")
	tarball, err := os.Open(tarballPath)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOpenFile, 400, "open persisted archive", err)
	}
	unpackedDir, err := o.Processor.Unpack(tarball, declaredSize)
	tarball.Close()
	if err != nil {
		return nil, err
	}
	workRoot := filepath.Dir(unpackedDir)
	defer func() {
		if rmErr := os.RemoveAll(workRoot); rmErr != nil {
			slog.Warn("failed to remove upload workdir", "dir", workRoot, "error", rmErr)
		}
	}()

	// Drop any pre-built artifacts so out/release only ever holds this
	// build's output.
	_ = os.RemoveAll(filepath.Join(unpackedDir, "out"))

	setStage("compiling project")
	buildStart := time.Now()
	buildOut, err := o.Sandbox.Build(ctx, binDir, unpackedDir)
	telemetry.PublishStageDuration.WithLabelValues("build").Observe(time.Since(buildStart).Seconds())
	if err != nil {
		slog.Info("forc build failed", "upload_id", uploadID, "output", truncateOutput(buildOut))
		return nil, err
	}

	setStage("filtering project files")
	projectDir, err := o.Processor.Filter(unpackedDir)
	if err != nil {
		return nil, err
	}

	forcManifest, readme, err := archive.ReadManifestAndReadme(projectDir)
	if err != nil {
		return nil, err
	}

	tgzPath, err := o.Processor.Repack(projectDir)
	if err != nil {
		return nil, err
	}

	abiPath, _, bytecodeID, err := archive.LocateArtifacts(unpackedDir)
	if err != nil {
		return nil, err
	}

	setStage("pinning source archive")
	pinStart := time.Now()
	sourceCID, err := o.pinFile(ctx, tgzPath)
	if err != nil {
		return nil, err
	}

	var abiCID *string
	if abiPath != "" {
		setStage("pinning ABI")
		cid, err := o.pinFile(ctx, abiPath)
		if err != nil {
			return nil, err
		}
		abiCID = &cid
	}
	telemetry.PublishStageDuration.WithLabelValues("blob_pin").Observe(time.Since(pinStart).Seconds())

	// Docs are best-effort: a doc failure leaves docs_cid unset but the
	// upload still succeeds.
	setStage("generating documentation")
	docsCID := o.generateAndPinDocs(ctx, binDir, unpackedDir, uploadID)

	setStage("recording upload")
	upload := &models.Upload{
		ID:                 uploadID,
		SourceCID:          sourceCID,
		ForcVersion:        forcVersion,
		ABICID:             abiCID,
		BytecodeIdentifier: bytecodeID,
		Readme:             readme,
		ForcManifest:       forcManifest,
		DocsCID:            docsCID,
	}
	err = o.Tx.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		return o.Uploads.Create(ctx, tx, upload)
	})
	if err != nil {
		return nil, apierr.Database(err)
	}

	return upload, nil
}

// persistTarball spools the request body to disk, enforcing the size cap
// on the actual byte count (a short or padded body cannot dodge the
// Content-Length check), then validates the archive's structure before
// anything is unpacked.
func (o *Orchestrator) persistTarball(body io.Reader, declaredSize int64) (string, error) {
	f, err := os.CreateTemp(o.Processor.WorkDir, "upload-*.tgz")
	if err != nil {
		return "", apierr.Wrap(apierr.KindCreateTempDir, 400, "create upload tempfile", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(body, archive.MaxArchiveSize+1))
	if err != nil {
		os.Remove(f.Name())
		return "", apierr.Wrap(apierr.KindSaveFile, 400, "persist upload archive", err)
	}
	if written > archive.MaxArchiveSize || written != declaredSize {
		os.Remove(f.Name())
		return "", apierr.New(apierr.KindTooLarge, 400, "upload exceeds 10 MiB or was truncated")
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		os.Remove(f.Name())
		return "", apierr.Wrap(apierr.KindReadFile, 400, "rewind upload archive", err)
	}
	if err := validation.ValidateArchive(f, archive.MaxArchiveSize); err != nil {
		os.Remove(f.Name())
		return "", apierr.Wrap(apierr.KindReadFile, 400, "validate upload archive", err)
	}

	return f.Name(), nil
}

func (o *Orchestrator) pinFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apierr.Wrap(apierr.KindOpenFile, 400, "open artifact for pinning", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", apierr.Wrap(apierr.KindReadFile, 400, "stat artifact for pinning", err)
	}

	return o.Pinner.Pin(ctx, filepath.Base(path), f, info.Size())
}

func (o *Orchestrator) generateAndPinDocs(ctx context.Context, binDir, unpackedDir, uploadID string) *string {
	docStart := time.Now()
	out, docDir, err := o.Sandbox.Doc(ctx, binDir, unpackedDir)
	telemetry.PublishStageDuration.WithLabelValues("doc").Observe(time.Since(docStart).Seconds())
	if err != nil {
		slog.Warn("forc doc failed, continuing without docs", "upload_id", uploadID, "output", truncateOutput(out))
		return nil
	}

	tgz, err := os.CreateTemp(o.Processor.WorkDir, "docs-*.tgz")
	if err != nil {
		slog.Warn("failed to create docs archive", "upload_id", uploadID, "error", err)
		return nil
	}
	tgz.Close()
	defer os.Remove(tgz.Name())

	if err := archive.TarGzTree(docDir, tgz.Name()); err != nil {
		slog.Warn("failed to archive generated docs", "upload_id", uploadID, "error", err)
		return nil
	}

	cid, err := o.pinFile(ctx, tgz.Name())
	if err != nil {
		slog.Warn("failed to pin generated docs", "upload_id", uploadID, "error", err)
		return nil
	}
	return &cid
}

// PublishRequest is the authenticated publish call's input.
type PublishRequest struct {
	UploadID string   `json:"uploadId" binding:"required"`
	URLs     []string `json:"urls"`
}

// PublishResponse names the version that was durably published.
type PublishResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Publish turns a recorded Upload into a PackageVersion plus an index
// entry. The index write happens first and gates the database transaction:
// an index failure leaves the database untouched.
func (o *Orchestrator) Publish(ctx context.Context, token *models.APIToken, req PublishRequest) (*PublishResponse, error) {
	upload, err := o.Uploads.GetByID(ctx, req.UploadID)
	if err != nil {
		return nil, apierr.Database(err)
	}
	if upload == nil {
		return nil, apierr.NotFound(fmt.Sprintf("upload %s not found", req.UploadID))
	}

	m, err := manifest.Parse(upload.ForcManifest)
	if err != nil {
		return nil, err
	}

	num, err := validation.NormalizeForcVersion(m.Project.Version)
	if err != nil {
		return nil, apierr.InvalidForcManifest(fmt.Sprintf("invalid package version %q", m.Project.Version))
	}

	deps := sortedDeps(m)
	if err := o.checkDependenciesExist(ctx, deps); err != nil {
		return nil, err
	}

	if !o.Local {
		// Reject non-owners before anything reaches the index repo: a
		// rejected publish must leave no index change behind. The check
		// repeats inside the write transaction, which stays
		// authoritative against a concurrent first publish.
		existing, err := o.Packages.GetByName(ctx, m.Project.Name)
		if err != nil {
			return nil, apierr.Database(err)
		}
		if existing != nil && existing.UserOwner != token.UserID {
			return nil, apierr.InvalidPublishToken()
		}

		entry := index.PackageEntry{
			PackageName: m.Project.Name,
			Version:     num,
			SourceCID:   upload.SourceCID,
			ABICID:      upload.ABICID,
			Dependencies: func() []index.Dependency {
				out := make([]index.Dependency, len(deps))
				for i, d := range deps {
					out[i] = index.Dependency{Name: d.name, VersionReq: d.versionReq}
				}
				return out
			}(),
		}
		if err := o.publishIndexEntry(ctx, m.Project.Name, entry); err != nil {
			return nil, err
		}
	}

	version := &models.PackageVersion{
		PublishToken:       token.ID,
		PublishedBy:        token.UserID,
		UploadID:           upload.ID,
		Num:                num,
		PackageDescription: manifest.OptionalString(m.Project.Description),
		Repository:         manifest.OptionalString(m.Project.Repository),
		Documentation:      manifest.OptionalString(m.Project.Documentation),
		Homepage:           manifest.OptionalString(m.Project.Homepage),
		Urls:               req.URLs,
		License:            manifest.OptionalString(m.Project.License),
	}

	err = o.Tx.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		pkg, err := o.Packages.GetByName(ctx, m.Project.Name)
		if err != nil {
			return apierr.Database(err)
		}
		if pkg == nil {
			pkg = &models.Package{UserOwner: token.UserID, PackageName: m.Project.Name}
			if err := o.Packages.Create(ctx, tx, pkg); err != nil {
				return apierr.Database(err)
			}
		} else if pkg.UserOwner != token.UserID {
			return apierr.InvalidPublishToken()
		}

		version.PackageID = pkg.ID
		if err := o.Packages.CreateVersion(ctx, tx, version); err != nil {
			if isUniqueViolation(err) {
				return apierr.VersionCollision(m.Project.Name, num)
			}
			return apierr.Database(err)
		}

		if err := o.Packages.SetDefaultVersion(ctx, tx, pkg.ID, version.ID); err != nil {
			return apierr.Database(err)
		}

		depRows := make([]*models.PackageDep, len(deps))
		for i, d := range deps {
			depRows[i] = &models.PackageDep{
				DependentPackageVersionID: version.ID,
				DependencyPackageName:     d.name,
				DependencyVersionReq:      d.versionReq,
			}
		}
		if err := o.Packages.CreateDeps(ctx, tx, depRows); err != nil {
			return apierr.Database(err)
		}

		if err := o.Packages.ReplaceCategories(ctx, tx, pkg.ID, m.Project.Categories); err != nil {
			return apierr.Database(err)
		}
		if err := o.Packages.ReplaceKeywords(ctx, tx, pkg.ID, m.Project.Keywords); err != nil {
			return apierr.Database(err)
		}
		return nil
	})
	if err != nil {
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, apierr.Database(err)
	}

	return &PublishResponse{Name: m.Project.Name, Version: num}, nil
}

// publishIndexEntry runs the blocking git work off the request goroutine
// and waits for it, honoring context cancellation for the wait but never
// abandoning a push midway — the worker finishes even if the client is
// gone, keeping index and database consistent.
func (o *Orchestrator) publishIndexEntry(ctx context.Context, name string, entry index.PackageEntry) error {
	indexStart := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- o.Index.Publish(name, entry)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		// The push still runs to completion in the worker; only the wait
		// is abandoned.
		err = <-done
	}
	telemetry.PublishStageDuration.WithLabelValues("index_publish").Observe(time.Since(indexStart).Seconds())

	switch {
	case err == nil:
		telemetry.IndexPublishOutcomesTotal.WithLabelValues("success").Inc()
		return nil
	default:
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Kind {
			case apierr.KindVersionCollision:
				telemetry.IndexPublishOutcomesTotal.WithLabelValues("version_collision").Inc()
			case apierr.KindNoChanges:
				telemetry.IndexPublishOutcomesTotal.WithLabelValues("no_changes").Inc()
			default:
				telemetry.IndexPublishOutcomesTotal.WithLabelValues("error").Inc()
			}
		} else {
			telemetry.IndexPublishOutcomesTotal.WithLabelValues("error").Inc()
		}
		return err
	}
}

type declaredDep struct {
	name       string
	versionReq string
}

func sortedDeps(m *manifest.Manifest) []declaredDep {
	deps := make([]declaredDep, 0, len(m.Dependencies))
	for name, d := range m.Dependencies {
		deps = append(deps, declaredDep{name: name, versionReq: d.VersionReq})
	}
	// Map iteration order is random; index entries and dependency rows
	// should not churn between publishes of identical manifests.
	for i := 1; i < len(deps); i++ {
		for j := i; j > 0 && deps[j-1].name > deps[j].name; j-- {
			deps[j-1], deps[j] = deps[j], deps[j-1]
		}
	}
	return deps
}

// checkDependenciesExist verifies every named dependency resolves to a
// version already in the registry. Requirements that parse as version
// constraints must match at least one published version; anything else
// (git/path deps normalized to an empty requirement) only needs the
// package to exist.
func (o *Orchestrator) checkDependenciesExist(ctx context.Context, deps []declaredDep) error {
	for _, d := range deps {
		versions, err := o.Packages.ListVersions(ctx, d.name)
		if err != nil {
			return apierr.Database(err)
		}
		if len(versions) == 0 {
			return apierr.InvalidForcManifest(fmt.Sprintf("dependency %q is not published in this registry", d.name))
		}
		if d.versionReq == "" {
			continue
		}

		constraint, err := goversion.NewConstraint(normalizeConstraint(d.versionReq))
		if err != nil {
			// Unparseable requirement strings degrade to package-level
			// existence, which the check above already satisfied.
			continue
		}

		satisfied := false
		for _, v := range versions {
			parsed, err := goversion.NewVersion(v.Num)
			if err != nil {
				continue
			}
			if constraint.Check(parsed) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return apierr.InvalidForcManifest(fmt.Sprintf("no published version of %q satisfies %q", d.name, d.versionReq))
		}
	}
	return nil
}

// normalizeConstraint expands caret requirements into the explicit range
// go-version understands: ^x.y.z allows everything up to the next
// increment of the leftmost non-zero component. Everything else passes
// through.
func normalizeConstraint(req string) string {
	if !strings.HasPrefix(req, "^") {
		return req
	}
	base := strings.TrimPrefix(req, "^")
	v, err := goversion.NewVersion(base)
	if err != nil {
		return base
	}

	segs := v.Segments()
	var upper string
	switch {
	case segs[0] > 0:
		upper = fmt.Sprintf("%d.0.0", segs[0]+1)
	case segs[1] > 0:
		upper = fmt.Sprintf("0.%d.0", segs[1]+1)
	default:
		upper = fmt.Sprintf("0.0.%d", segs[2]+1)
	}
	return fmt.Sprintf(">=%s, <%s", base, upper)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func truncateOutput(out []byte) string {
	const max = 4096
	if len(out) > max {
		return string(out[:max]) + "…(truncated)"
	}
	return string(out)
}
