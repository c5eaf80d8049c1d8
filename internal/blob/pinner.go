// Package blob composes the registry's two blob destinations — an IPFS
// node and an S3-compatible mirror — behind a single Pinner interface.
// Every upload step (source archive, ABI, generated docs) goes through
// this package rather than talking to either backend directly.
package blob

import (
	"bytes"
	"context"
	"io"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/blob/ipfs"
	"github.com/forc-lang/forc-registry/internal/blob/mirror"
)

// Pinner stores content and hands back its content identifier.
type Pinner interface {
	Pin(ctx context.Context, path string, r io.Reader, size int64) (cid string, err error)
	Fetch(ctx context.Context, cid string) (io.ReadCloser, error)
}

// DualPinner pins to IPFS and, unless running in local mode, mirrors the
// same bytes to S3. Both destinations must succeed for a
// non-local pin to count as successful.
type DualPinner struct {
	ipfs   *ipfs.Client
	mirror *mirror.Mirror
	local  bool
}

func NewDualPinner(ipfsClient *ipfs.Client, s3Mirror *mirror.Mirror, local bool) *DualPinner {
	return &DualPinner{ipfs: ipfsClient, mirror: s3Mirror, local: local}
}

// Pin buffers the content once so it can be replayed to both backends,
// uploads to IPFS first, then (unless local) mirrors the identical bytes
// to S3 under the IPFS CID as key. The CID returned is always IPFS's —
// it is the identifier stored in the data model and handed to clients.
func (p *DualPinner) Pin(ctx context.Context, path string, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", apierr.Wrap(apierr.KindReadFile, 400, "read blob content", err)
	}

	cid, err := p.ipfs.Add(ctx, path, bytes.NewReader(data))
	if err != nil {
		return "", apierr.Wrap(apierr.KindIpfsUploadFailed, 400, "ipfs add failed", err)
	}

	if p.local {
		return cid, nil
	}

	if err := p.mirror.Put(ctx, cid, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", apierr.Wrap(apierr.KindS3UploadFailed, 400, "s3 mirror upload failed", err)
	}

	return cid, nil
}

// Fetch always reads from IPFS — the mirror exists purely as a durability
// backstop, not a read path.
func (p *DualPinner) Fetch(ctx context.Context, cid string) (io.ReadCloser, error) {
	rc, err := p.ipfs.Cat(ctx, cid)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIpfsUploadFailed, 400, "ipfs fetch failed", err)
	}
	return rc, nil
}
