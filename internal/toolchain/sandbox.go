// Package toolchain manages per-version forc compiler installs and runs
// builds/doc generation against them in isolated project directories.
package toolchain

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/forc-lang/forc-registry/internal/apierr"
)

// supportedPlatforms lists the (os, arch) pairs the release channel
// publishes tarballs for.
var supportedPlatforms = map[string]bool{
	"linux/amd64":  true,
	"linux/arm64":  true,
	"darwin/amd64": true,
	"darwin/arm64": true,
}

// Sandbox installs forc toolchains into InstallDir and runs subprocess
// builds/doc generation against them.
type Sandbox struct {
	InstallDir   string
	DownloadURL  string
	BuildTimeout time.Duration
	DocTimeout   time.Duration

	httpClient *http.Client
}

func NewSandbox(installDir, downloadURLTemplate string, buildTimeout, docTimeout time.Duration) *Sandbox {
	return &Sandbox{
		InstallDir:   installDir,
		DownloadURL:  downloadURLTemplate,
		BuildTimeout: buildTimeout,
		DocTimeout:   docTimeout,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// EnsureInstalled downloads and extracts the forc release for version if it
// is not already present, returning the bin directory to prepend to PATH.
func (s *Sandbox) EnsureInstalled(ctx context.Context, version string) (string, error) {
	platform := runtime.GOOS + "/" + runtime.GOARCH
	if !supportedPlatforms[platform] {
		if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
			return "", apierr.New(apierr.KindUnsupportedOs, 400, fmt.Sprintf("unsupported os: %s", runtime.GOOS))
		}
		return "", apierr.New(apierr.KindUnsupportedArch, 400, fmt.Sprintf("unsupported arch: %s", runtime.GOARCH))
	}

	versionDir := filepath.Join(s.InstallDir, "forc-"+version)
	binDir := filepath.Join(versionDir, "bin")
	if _, err := os.Stat(filepath.Join(binDir, "forc")); err == nil {
		return binDir, nil
	}

	url := strings.NewReplacer(
		"{version}", version,
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
	).Replace(s.DownloadURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidForcVersion, 400, "build toolchain download request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidForcVersion, 400, "download forc release", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apierr.New(apierr.KindInvalidForcVersion, 400, fmt.Sprintf("forc release %s not found for %s", version, platform))
	}

	if err := os.MkdirAll(versionDir, 0o750); err != nil {
		return "", apierr.Wrap(apierr.KindCreateTempDir, 400, "create toolchain install dir", err)
	}

	if err := extractTarGz(resp.Body, versionDir); err != nil {
		os.RemoveAll(versionDir)
		return "", apierr.Wrap(apierr.KindInvalidForcVersion, 400, "extract forc release", err)
	}

	if _, err := os.Stat(filepath.Join(binDir, "forc")); err != nil {
		os.RemoveAll(versionDir)
		return "", apierr.New(apierr.KindInvalidForcVersion, 400, "extracted forc release missing bin/forc")
	}

	return binDir, nil
}

// Build runs `forc build --release` against projectDir using the toolchain
// at binDir, returning combined stdout/stderr for diagnostics.
func (s *Sandbox) Build(ctx context.Context, binDir, projectDir string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.BuildTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, filepath.Join(binDir, "forc"), "build", "--release")
	cmd.Dir = projectDir
	cmd.Env = append(os.Environ(), "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, apierr.Wrap(apierr.KindFailedToCompile, 400, "forc build failed", err)
	}
	return output, nil
}

// Doc runs `forc doc` against projectDir. Documentation failures are
// logged and swallowed by the caller, leaving docs_cid unset, so this
// returns the error rather than treating it as fatal to the whole
// publish.
func (s *Sandbox) Doc(ctx context.Context, binDir, projectDir string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.DocTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, filepath.Join(binDir, "forc"), "doc")
	cmd.Dir = projectDir
	cmd.Env = append(os.Environ(), "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, "", apierr.Wrap(apierr.KindFailedToGenerateDocumentation, 400, "forc doc failed", err)
	}
	return output, filepath.Join(projectDir, "out", "doc"), nil
}

// extractTarGz extracts a tar.gz release tarball into dest, rejecting
// absolute paths and parent-directory traversal.
func extractTarGz(r io.Reader, dest string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, header.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path in release tarball: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
	return nil
}
