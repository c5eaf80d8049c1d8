package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/forc-lang/forc-registry/internal/apierr"
)

func makeTarGz(t *testing.T, files map[string]string) []byte {
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

func TestUnpack_RejectsOversizedDeclaration(t *testing.T) {
	p := NewProcessor(t.TempDir())
	_, err := p.Unpack(bytes.NewReader(nil), MaxArchiveSize+1)

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindTooLarge {
		t.Fatalf("expected TooLarge, got %v", err)
	}
}

func TestUnpack_ExactCapAccepted(t *testing.T) {
	p := NewProcessor(t.TempDir())
	data := makeTarGz(t, map[string]string{"Forc.toml": "[project]"})

	unpacked, err := p.Unpack(bytes.NewReader(data), MaxArchiveSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(unpacked, "Forc.toml")); err != nil {
		t.Errorf("Forc.toml not extracted: %v", err)
	}
}

func TestUnpack_RejectsPathTraversal(t *testing.T) {
	p := NewProcessor(t.TempDir())
	data := makeTarGz(t, map[string]string{"../escape.sw": "library;"})

	_, err := p.Unpack(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		t.Fatal("expected error for path traversal entry")
	}
}

func TestFilter_KeepsCanonicalSet(t *testing.T) {
	p := NewProcessor(t.TempDir())
	data := makeTarGz(t, map[string]string{
		"Forc.toml":       "[project]",
		"Forc.lock":       "[[package]]",
		"README.md":       "# readme",
		"src/main.sw":     "contract;",
		"src/deep/lib.sw": "library;",
		"out/release/foo-abi.json": "{}",
		".github/workflows/ci.yml": "jobs:",
		"notes.txt":                "scratch",
	})

	unpacked, err := p.Unpack(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	projectDir, err := p.Filter(unpacked)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}

	for _, want := range []string{"Forc.toml", "Forc.lock", "README.md", "src/main.sw", "src/deep/lib.sw"} {
		if _, err := os.Stat(filepath.Join(projectDir, want)); err != nil {
			t.Errorf("expected %s in filtered tree: %v", want, err)
		}
	}
	for _, reject := range []string{"out/release/foo-abi.json", ".github/workflows/ci.yml", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(projectDir, reject)); err == nil {
			t.Errorf("%s should have been filtered out", reject)
		}
	}
}

func TestRepack_RoundTrips(t *testing.T) {
	p := NewProcessor(t.TempDir())
	data := makeTarGz(t, map[string]string{
		"Forc.toml":   "[project]",
		"src/main.sw": "contract;",
	})

	unpacked, err := p.Unpack(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	projectDir, err := p.Filter(unpacked)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	tgzPath, err := p.Repack(projectDir)
	if err != nil {
		t.Fatalf("repack: %v", err)
	}

	f, err := os.Open(tgzPath)
	if err != nil {
		t.Fatalf("open repacked: %v", err)
	}
	defer f.Close()
	gzr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gzr)
	names := map[string]bool{}
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		names[h.Name] = true
	}
	if !names["Forc.toml"] || !names[filepath.Join("src", "main.sw")] {
		t.Errorf("repacked tarball missing entries: %v", names)
	}
}

func TestLocateArtifacts(t *testing.T) {
	dir := t.TempDir()
	release := filepath.Join(dir, "out", "release")
	if err := os.MkdirAll(release, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(release, "foo-abi.json"), []byte(`{"abi":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(release, "foo.bin"), []byte{0x90, 0x01}, 0o644); err != nil {
		t.Fatal(err)
	}

	abiPath, bytecodePath, bytecodeID, err := LocateArtifacts(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(abiPath) != "foo-abi.json" {
		t.Errorf("unexpected abi path: %s", abiPath)
	}
	if filepath.Base(bytecodePath) != "foo.bin" {
		t.Errorf("unexpected bytecode path: %s", bytecodePath)
	}
	if bytecodeID == nil || len(*bytecodeID) != 64 {
		t.Errorf("bytecode identifier not a sha256 hex digest: %v", bytecodeID)
	}
}

func TestLocateArtifacts_LibraryPackage(t *testing.T) {
	abiPath, bytecodePath, bytecodeID, err := LocateArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if abiPath != "" || bytecodePath != "" || bytecodeID != nil {
		t.Errorf("expected empty artifacts for library package, got %q %q %v", abiPath, bytecodePath, bytecodeID)
	}
}

func TestReadManifestAndReadme_MissingManifest(t *testing.T) {
	_, _, err := ReadManifestAndReadme(t.TempDir())

	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindMissingForcManifest {
		t.Fatalf("expected MissingForcManifest, got %v", err)
	}
}

func TestReadManifestAndReadme_ReadmeOptional(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Forc.toml"), []byte("[project]"), 0o644); err != nil {
		t.Fatal(err)
	}

	manifestText, readme, err := ReadManifestAndReadme(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifestText != "[project]" {
		t.Errorf("unexpected manifest: %q", manifestText)
	}
	if readme != nil {
		t.Errorf("expected nil readme, got %q", *readme)
	}
}
