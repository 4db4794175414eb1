package ocrresolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

func TestDispatcher_RejectsPDFBeforeFetch(t *testing.T) {
	d := NewDispatcher(map[ocrtypes.ImageKind]Resolver{
		ocrtypes.ImageKindLocalPath: NewLocalPathResolver(t.TempDir()),
	})

	_, err := d.Resolve(context.Background(), ocrtypes.ImageRef{
		Kind: ocrtypes.ImageKindLocalPath, Value: "scan.PDF", Index: 0,
	})
	require.Error(t, err)
	assert.Equal(t, ocrerrors.CodeUnsupportedMedia, ocrerrors.CodeOf(err))
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d := NewDispatcher(nil)
	_, err := d.Resolve(context.Background(), ocrtypes.ImageRef{
		Kind: ocrtypes.ImageKindDB, Value: "foo", Index: 0,
	})
	require.Error(t, err)
	assert.Equal(t, ocrerrors.CodeBadRequest, ocrerrors.CodeOf(err))
}

func TestLocalPathResolver_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("pngdata"), 0o600))

	r := NewLocalPathResolver(dir)
	res, err := r.Resolve(context.Background(), ocrtypes.ImageRef{
		Kind: ocrtypes.ImageKindLocalPath, Value: "a.png", Index: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pngdata"), res.Bytes)
}

func TestLocalPathResolver_NotFound(t *testing.T) {
	r := NewLocalPathResolver(t.TempDir())
	_, err := r.Resolve(context.Background(), ocrtypes.ImageRef{
		Kind: ocrtypes.ImageKindLocalPath, Value: "missing.png", Index: 0,
	})
	require.Error(t, err)
	assert.Equal(t, ocrerrors.CodeImageNotFound, ocrerrors.CodeOf(err))
}

type fakeBlobStore struct {
	data []byte
	err  error
}

func (f *fakeBlobStore) GetBlob(_ context.Context, _ string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "image/png", nil
}

func TestDBResolver_ReturnsBytes(t *testing.T) {
	r := NewDBResolver(&fakeBlobStore{data: []byte("blob")})
	res, err := r.Resolve(context.Background(), ocrtypes.ImageRef{Kind: ocrtypes.ImageKindDB, Value: "123"})
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), res.Bytes)
	assert.Equal(t, "image/png", res.MediaType)
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := parseS3URI("s3://my-bucket/path/to/key.png")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "path/to/key.png", key)
}

func TestParseS3URI_Malformed(t *testing.T) {
	_, _, err := parseS3URI("not-a-uri")
	assert.Error(t, err)
}
