package ocrresolve

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

// LocalPathResolver reads images off a worker-local filesystem path,
// rooted under a configured base directory so callers cannot escape it
// with a crafted reference value.
type LocalPathResolver struct {
	baseDir string
}

// NewLocalPathResolver builds a resolver rooted at baseDir.
func NewLocalPathResolver(baseDir string) *LocalPathResolver {
	return &LocalPathResolver{baseDir: baseDir}
}

func (r *LocalPathResolver) Resolve(_ context.Context, ref ocrtypes.ImageRef) (Result, error) {
	cleaned := filepath.Clean("/" + ref.Value)
	full := filepath.Join(r.baseDir, cleaned)

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, ocrerrors.Wrap(ocrerrors.CodeImageNotFound, "local image not found", err)
		}
		return Result{}, ocrerrors.Wrap(ocrerrors.CodeFileReadError, "failed reading local image", err)
	}

	return Result{Bytes: data, MediaType: sniffMediaType(data)}, nil
}

func sniffMediaType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
