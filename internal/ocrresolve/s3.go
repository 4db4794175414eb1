package ocrresolve

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

// s3API is the subset of the S3 client this resolver needs, narrowed
// so tests can supply a fake without pulling in network calls.
type s3API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Resolver resolves `s3://bucket/key` and MinIO references (same
// reference shape, different endpoint baked into the client) against
// an S3-compatible object store.
type S3Resolver struct {
	client s3API
}

// NewS3Resolver wraps an already-configured S3 client (pointed at AWS
// S3 or a MinIO endpoint, depending on which kind it services).
func NewS3Resolver(client s3API) *S3Resolver {
	return &S3Resolver{client: client}
}

func (r *S3Resolver) Resolve(ctx context.Context, ref ocrtypes.ImageRef) (Result, error) {
	bucket, key, err := parseS3URI(ref.Value)
	if err != nil {
		return Result{}, ocrerrors.Wrap(ocrerrors.CodeBadRequest, "malformed s3 reference", err)
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFoundErr(err) {
			return Result{}, ocrerrors.Wrap(ocrerrors.CodeImageNotFound, "object not found", err)
		}
		return Result{}, ocrerrors.Wrap(ocrerrors.CodeFileReadError, "failed fetching s3 object", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Result{}, ocrerrors.Wrap(ocrerrors.CodeFileReadError, "failed reading s3 object body", err)
	}

	mediaType := "application/octet-stream"
	if out.ContentType != nil {
		mediaType = *out.ContentType
	}
	return Result{Bytes: data, MediaType: mediaType}, nil
}

func parseS3URI(value string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(value, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errMalformedURI
	}
	return parts[0], parts[1], nil
}

var errMalformedURI = ocrerrors.New(ocrerrors.CodeBadRequest, "expected s3://bucket/key")

func isNotFoundErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nosuchkey") ||
		strings.Contains(strings.ToLower(err.Error()), "notfound")
}
