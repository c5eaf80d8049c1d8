// Package archive unpacks a project's upload tarball, builds it, filters it
// down to its canonical source files, and locates the build artifacts a
// publish needs to pin.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/pkg/checksum"
)

// MaxArchiveSize is the upload size cap; larger uploads are rejected
// before any bytes are written to disk.
const MaxArchiveSize = 10 * 1024 * 1024

// maxExtractBytes caps the number of bytes copied from any single tar
// entry, independent of the archive-level size cap, as a defense against a
// single inflated entry.
const maxExtractBytes = MaxArchiveSize * 4

// keptFileNames and keptExtensions define the canonical file set copied
// into the filtered project tree.
var keptFileNames = map[string]bool{
	"Forc.toml": true,
	"Forc.lock": true,
	"README.md": true,
}

const keptExtension = ".sw"

// Processor unpacks, filters, and repacks upload tarballs under a scratch
// root directory.
type Processor struct {
	WorkDir string
}

func NewProcessor(workDir string) *Processor {
	return &Processor{WorkDir: workDir}
}

// Unpack decompresses and untars the upload into <workRoot>/unpacked.
// Building the unpacked tree belongs to the toolchain sandbox, not the
// archive processor; it must run between Unpack and the artifact-location
// step.
func (p *Processor) Unpack(r io.Reader, limitedSize int64) (string, error) {
	if limitedSize > MaxArchiveSize {
		return "", apierr.New(apierr.KindTooLarge, 400, "archive exceeds 10 MiB")
	}

	workRoot, err := os.MkdirTemp(p.WorkDir, "upload-*")
	if err != nil {
		return "", apierr.Wrap(apierr.KindCreateTempDir, 400, "create upload workdir", err)
	}

	unpacked := filepath.Join(workRoot, "unpacked")
	if err := os.MkdirAll(unpacked, 0o750); err != nil {
		return "", apierr.Wrap(apierr.KindCreateTempDir, 400, "create unpacked dir", err)
	}

	limited := io.LimitReader(r, MaxArchiveSize+1)
	if err := extractTarGz(limited, unpacked); err != nil {
		os.RemoveAll(workRoot)
		return "", apierr.Wrap(apierr.KindReadFile, 400, "unpack archive", err)
	}

	return unpacked, nil
}

// Filter copies the canonical file set from unpackedDir into
// <workRoot>/project, preserving relative paths and pruning directories
// that end up empty.
func (p *Processor) Filter(unpackedDir string) (string, error) {
	workRoot := filepath.Dir(unpackedDir)
	projectDir := filepath.Join(workRoot, "project")

	err := filepath.Walk(unpackedDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !keep(info.Name()) {
			return nil
		}

		rel, err := filepath.Rel(unpackedDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(projectDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return err
		}
		return copyFile(path, dest)
	})
	if err != nil {
		return "", apierr.Wrap(apierr.KindCopyFiles, 400, "filter project tree", err)
	}

	return projectDir, nil
}

func keep(name string) bool {
	if keptFileNames[name] {
		return true
	}
	return strings.HasSuffix(name, keptExtension)
}

// Repack tars and gzips projectDir into <workRoot>/project.tgz.
func (p *Processor) Repack(projectDir string) (string, error) {
	workRoot := filepath.Dir(projectDir)
	tgzPath := filepath.Join(workRoot, "project.tgz")

	if err := TarGzTree(projectDir, tgzPath); err != nil {
		return "", apierr.Wrap(apierr.KindSaveFile, 400, "write project tarball", err)
	}

	return tgzPath, nil
}

// TarGzTree writes srcDir's regular files into a gzip-compressed tarball
// at destPath, with entry names relative to srcDir.
func TarGzTree(srcDir, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

// LocateArtifacts finds the first ABI JSON and bytecode binary under
// <unpackedDir>/out/release and, when a bytecode file is found, computes
// its SHA-256 identifier. Either or both may be absent for a library
// package.
func LocateArtifacts(unpackedDir string) (abiPath, bytecodePath string, bytecodeID *string, err error) {
	releaseDir := filepath.Join(unpackedDir, "out", "release")
	entries, err := os.ReadDir(releaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil, nil
		}
		return "", "", nil, apierr.Wrap(apierr.KindReadFile, 400, "read out/release", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case abiPath == "" && strings.HasSuffix(name, "-abi.json"):
			abiPath = filepath.Join(releaseDir, name)
		case bytecodePath == "" && strings.HasSuffix(name, ".bin"):
			bytecodePath = filepath.Join(releaseDir, name)
		}
	}

	if bytecodePath != "" {
		id, err := sha256File(bytecodePath)
		if err != nil {
			return "", "", nil, apierr.Wrap(apierr.KindBytecodeId, 400, "hash bytecode", err)
		}
		bytecodeID = &id
	}

	return abiPath, bytecodePath, bytecodeID, nil
}

// ReadManifestAndReadme loads Forc.toml (mandatory) and README.md
// (optional) from the filtered project tree.
func ReadManifestAndReadme(projectDir string) (manifest string, readme *string, err error) {
	manifestPath := filepath.Join(projectDir, "Forc.toml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", nil, apierr.New(apierr.KindMissingForcManifest, 400, "Forc.toml not found in filtered project")
	}
	manifest = string(data)

	readmePath := filepath.Join(projectDir, "README.md")
	if readmeData, readErr := os.ReadFile(readmePath); readErr == nil {
		text := string(readmeData)
		readme = &text
	}

	return manifest, readme, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return checksum.CalculateSHA256(f)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

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
			return fmt.Errorf("invalid file path in archive: %s", header.Name)
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
			f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, io.LimitReader(tr, maxExtractBytes)); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
	return nil
}
