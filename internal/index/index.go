// Package index publishes package index entries to a public git
// repository. Each package gets one JSON file containing every published
// version; the file's path is governed by a namespace prefix and a
// chunking scheme applied to the package name. All writes are serialized
// through a single process-wide lock so concurrent publishes never race
// on the same working tree.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	xssh "golang.org/x/crypto/ssh"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/validation"
)

// PackageEntry is one version's record within a package's index file.
type PackageEntry struct {
	PackageName  string       `json:"package_name"`
	Version      string       `json:"version"`
	SourceCID    string       `json:"source_cid"`
	ABICID       *string      `json:"abi_cid,omitempty"`
	Dependencies []Dependency `json:"dependencies"`
	Yanked       bool         `json:"yanked"`
}

// Dependency is one entry in a PackageEntry's dependency list.
type Dependency struct {
	Name       string `json:"name"`
	VersionReq string `json:"version_req"`
}

// IndexFile is the on-disk shape of a package's index file: version string
// keyed to its entry.
type IndexFile map[string]PackageEntry

// MarshalOrdered serializes an IndexFile with its keys in stable semver
// order (falling back to lexicographic for keys that fail to parse), so
// repeated publishes of the same content produce byte-identical commits.
func (f IndexFile) MarshalOrdered() ([]byte, error) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if cmp, err := validation.CompareSemver(keys[i], keys[j]); err == nil {
			return cmp < 0
		}
		return keys[i] < keys[j]
	})

	var b strings.Builder
	b.WriteString("{\n")
	for i, k := range keys {
		entryJSON, err := json.Marshal(f[k])
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "  %q: %s", k, entryJSON)
		if i < len(keys)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return []byte(b.String()), nil
}

// Namespace controls whether (and how) a domain prefix is applied to
// index file paths, letting multiple registries share one repository.
type Namespace struct {
	Flat   bool
	Domain string
}

// ParseNamespace interprets the configured namespace string: "flat", or
// "domain:<prefix>".
func ParseNamespace(raw string) Namespace {
	if strings.HasPrefix(raw, "domain:") {
		return Namespace{Domain: strings.TrimPrefix(raw, "domain:")}
	}
	return Namespace{Flat: true}
}

// ChunkPath computes the repo-relative path to a package's index file:
// (namespace prefix) / chunk₁ / chunk₂ / … / packageName, where each
// chunkᵢ is the i-th chunkSize-character slice of packageName (the final
// slice may be shorter, never empty) and the file itself is always the
// full package name. chunkSize <= 0 disables chunking.
func ChunkPath(ns Namespace, chunkSize int, packageName string) string {
	var parts []string
	if !ns.Flat && ns.Domain != "" {
		parts = append(parts, ns.Domain)
	}

	if chunkSize > 0 {
		// Chunk by characters, not bytes, so multi-byte package names
		// never split mid-rune.
		for rest := []rune(packageName); len(rest) > 0; {
			n := chunkSize
			if n > len(rest) {
				n = len(rest)
			}
			parts = append(parts, string(rest[:n]))
			rest = rest[n:]
		}
	}
	parts = append(parts, packageName)

	return filepath.Join(parts...)
}

// Config configures a Publisher's target repository and commit identity.
type Config struct {
	RepoURL     string
	Branch      string // empty: discover via HEAD
	CloneDir    string
	AuthorName  string
	AuthorEmail string
	SSHKey      string // literal private key body, takes precedence over SSHKeyPath
	SSHKeyPath  string
	Namespace   Namespace
	ChunkSize   int
}

// Publisher writes package entries into the index repository. All publish
// calls share one *Publisher and are serialized by its internal mutex —
// the working tree is not safe for concurrent use.
type Publisher struct {
	cfg  Config
	auth transport.AuthMethod
	mu   sync.Mutex
}

// New builds a Publisher and resolves its SSH authentication up front so
// a misconfigured key is reported at startup rather than on first publish.
func New(cfg Config) (*Publisher, error) {
	auth, err := resolveAuth(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{cfg: cfg, auth: auth}, nil
}

func resolveAuth(cfg Config) (transport.AuthMethod, error) {
	switch {
	case cfg.SSHKey != "":
		// Parse the key body up front so a mangled env var reports as a
		// key problem at startup instead of a generic transport error on
		// the first push.
		if _, err := xssh.ParseRawPrivateKey([]byte(cfg.SSHKey)); err != nil {
			return nil, apierr.Wrap(apierr.KindAuthenticationError, 500, "index publisher: invalid SSH key", err)
		}
		return ssh.NewPublicKeys("git", []byte(cfg.SSHKey), "")
	case cfg.SSHKeyPath != "":
		return ssh.NewPublicKeysFromFile("git", cfg.SSHKeyPath, "")
	default:
		return nil, apierr.New(apierr.KindAuthenticationError, 500, "index publisher: no SSH key configured")
	}
}

// Publish adds entry to name's index file, failing with VersionCollision
// if entry.Version already has an entry: clone or fast-forward, hard-reset
// to origin's default branch, merge the entry, commit, and push.
func (p *Publisher) Publish(name string, entry PackageEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	repo, wt, err := p.openOrClone()
	if err != nil {
		return err
	}

	defaultBranch, err := p.resetToRemoteDefault(repo, wt)
	if err != nil {
		return err
	}

	relPath := ChunkPath(p.cfg.Namespace, p.cfg.ChunkSize, name)
	absPath := filepath.Join(p.cfg.CloneDir, relPath)

	file, err := p.loadOrCreateIndexFile(absPath)
	if err != nil {
		return err
	}
	if _, exists := file[entry.Version]; exists {
		return apierr.VersionCollision(entry.PackageName, entry.Version)
	}
	file[entry.Version] = entry

	if err := p.writeIndexFile(absPath, file); err != nil {
		return err
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return apierr.Wrap(apierr.KindSaveFile, 500, "git add", err)
	}

	status, err := wt.Status()
	if err != nil {
		return apierr.Wrap(apierr.KindSaveFile, 500, "git status", err)
	}
	if status.IsClean() {
		return apierr.New(apierr.KindNoChanges, 400, "no changes to publish")
	}

	commitName := name
	if !p.cfg.Namespace.Flat && p.cfg.Namespace.Domain != "" {
		commitName = p.cfg.Namespace.Domain + "/" + name
	}
	commitMsg := fmt.Sprintf("Add package %s version %s", commitName, entry.Version)
	_, err = wt.Commit(commitMsg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.cfg.AuthorName,
			Email: p.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return apierr.Wrap(apierr.KindSaveFile, 500, "git commit", err)
	}

	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", defaultBranch, defaultBranch))
	err = repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       p.auth,
	})
	if err != nil {
		return apierr.Wrap(apierr.KindAuthenticationError, 401, "git push", err)
	}

	return nil
}

func (p *Publisher) openOrClone() (*git.Repository, *git.Worktree, error) {
	repo, err := git.PlainOpen(p.cfg.CloneDir)
	if err == nil {
		wt, wtErr := repo.Worktree()
		if wtErr != nil {
			return nil, nil, apierr.Wrap(apierr.KindOpenFile, 500, "open index worktree", wtErr)
		}
		return repo, wt, nil
	}

	if err := os.MkdirAll(p.cfg.CloneDir, 0o755); err != nil {
		return nil, nil, apierr.Wrap(apierr.KindCreateTempDir, 500, "create index clone dir", err)
	}

	repo, err = git.PlainClone(p.cfg.CloneDir, false, &git.CloneOptions{
		URL:  p.cfg.RepoURL,
		Auth: p.auth,
	})
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.KindAuthenticationError, 401, "clone index repo", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.KindOpenFile, 500, "open index worktree", err)
	}
	return repo, wt, nil
}

// resetToRemoteDefault fetches refs/heads/*:refs/remotes/origin/*, then
// hard-resets the working tree to origin's default branch (the configured
// branch, or HEAD's target if unset).
func (p *Publisher) resetToRemoteDefault(repo *git.Repository, wt *git.Worktree) (string, error) {
	err := repo.Fetch(&git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/*:refs/remotes/origin/*"},
		Auth:       p.auth,
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return "", apierr.Wrap(apierr.KindAuthenticationError, 401, "fetch index repo", err)
	}

	branch := p.cfg.Branch
	if branch == "" {
		remote, err := repo.Remote("origin")
		if err != nil {
			return "", apierr.Wrap(apierr.KindReadFile, 500, "resolve origin remote", err)
		}
		refs, err := remote.List(&git.ListOptions{Auth: p.auth})
		if err != nil {
			return "", apierr.Wrap(apierr.KindAuthenticationError, 401, "list remote refs", err)
		}
		for _, ref := range refs {
			if ref.Name() == plumbing.HEAD {
				branch = ref.Target().Short()
				break
			}
		}
		if branch == "" {
			branch = "main"
		}
	}

	remoteRef := plumbing.NewRemoteReferenceName("origin", branch)
	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		return "", apierr.Wrap(apierr.KindReadFile, 500, "resolve origin default branch", err)
	}

	err = wt.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.HardReset})
	if err != nil {
		return "", apierr.Wrap(apierr.KindSaveFile, 500, "reset index worktree", err)
	}

	localRef := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), ref.Hash())
	if err := repo.Storer.SetReference(localRef); err != nil {
		return "", apierr.Wrap(apierr.KindSaveFile, 500, "update local branch ref", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch), Force: true}); err != nil {
		return "", apierr.Wrap(apierr.KindSaveFile, 500, "checkout index branch", err)
	}

	return branch, nil
}

func (p *Publisher) loadOrCreateIndexFile(absPath string) (IndexFile, error) {
	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return IndexFile{}, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindReadFile, 500, "read index file", err)
	}

	var file IndexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, apierr.Wrap(apierr.KindReadFile, 500, "parse index file", err)
	}
	return file, nil
}

func (p *Publisher) writeIndexFile(absPath string, file IndexFile) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return apierr.Wrap(apierr.KindCreateTempDir, 500, "create index parent dirs", err)
	}

	data, err := file.MarshalOrdered()
	if err != nil {
		return apierr.Wrap(apierr.KindSaveFile, 500, "serialize index file", err)
	}

	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return apierr.Wrap(apierr.KindSaveFile, 500, "write index file", err)
	}
	return nil
}
