package ocrresolve

import (
	"context"

	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

// BlobStore is the minimal contract a database-backed image store must
// satisfy for the db resolver kind: look up raw bytes by an opaque key.
type BlobStore interface {
	GetBlob(ctx context.Context, key string) ([]byte, string, error)
}

// DBResolver resolves references whose kind is db against a
// caller-supplied blob store. The persistent-settings/database layer
// is an external collaborator not wired into this process; this
// resolver only adapts its lookup into the Resolver contract.
type DBResolver struct {
	store BlobStore
}

// NewDBResolver wraps an already-configured BlobStore.
func NewDBResolver(store BlobStore) *DBResolver {
	return &DBResolver{store: store}
}

func (r *DBResolver) Resolve(ctx context.Context, ref ocrtypes.ImageRef) (Result, error) {
	data, mediaType, err := r.store.GetBlob(ctx, ref.Value)
	if err != nil {
		return Result{}, ocrerrors.Wrap(ocrerrors.CodeImageNotFound, "db blob lookup failed", err)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return Result{Bytes: data, MediaType: mediaType}, nil
}
