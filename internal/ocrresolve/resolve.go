// Package ocrresolve implements the image resolver: given an image
// reference, fetch its raw bytes from whichever transport the
// reference names. PDFs (and any unknown kind) are rejected before any
// bytes are fetched.
package ocrresolve

import (
	"context"
	"strings"

	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

// Result is what a successful resolve produces.
type Result struct {
	Bytes     []byte
	MediaType string
}

// Resolver fetches the bytes behind one image reference.
type Resolver interface {
	Resolve(ctx context.Context, ref ocrtypes.ImageRef) (Result, error)
}

// Dispatcher routes a resolve call to the sub-resolver bound to the
// reference's kind, and enforces the PDF rejection rule ahead of any
// of them.
type Dispatcher struct {
	byKind map[ocrtypes.ImageKind]Resolver
}

// NewDispatcher builds a Dispatcher from an explicit kind-to-resolver
// map built at startup.
func NewDispatcher(byKind map[ocrtypes.ImageKind]Resolver) *Dispatcher {
	cp := make(map[ocrtypes.ImageKind]Resolver, len(byKind))
	for k, r := range byKind {
		cp[k] = r
	}
	return &Dispatcher{byKind: cp}
}

// Resolve enforces the PDF rejection policy, then dispatches to the
// resolver registered for ref.Kind.
func (d *Dispatcher) Resolve(ctx context.Context, ref ocrtypes.ImageRef) (Result, error) {
	if strings.HasSuffix(strings.ToLower(ref.Value), ".pdf") {
		return Result{}, ocrerrors.New(ocrerrors.CodeUnsupportedMedia, "pdf references are not supported")
	}

	r, ok := d.byKind[ref.Kind]
	if !ok {
		return Result{}, ocrerrors.New(ocrerrors.CodeBadRequest, "no resolver registered for kind "+string(ref.Kind))
	}
	return r.Resolve(ctx, ref)
}
