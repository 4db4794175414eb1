// Package ocrschema implements the envelope validator: a pure function
// that checks an inbound job envelope against schema v1 before any
// processing begins. Failures are always classified as the
// non-retryable bad_request/schema_invalid error kind.
package ocrschema

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

var structValidate = validator.New()

// Validate checks envelope against every schema rule, filling in a
// derived image_count when the caller omitted it. It never mutates
// any other field.
func Validate(envelope *ocrtypes.JobEnvelope) error {
	if envelope == nil {
		return ocrerrors.New(ocrerrors.CodeBadRequest, "envelope is nil")
	}

	if err := structValidate.Struct(envelope); err != nil {
		return ocrerrors.Wrap(ocrerrors.CodeSchemaInvalid, "envelope failed field validation", err)
	}

	if envelope.SchemaVersion != ocrtypes.SchemaVersion {
		return ocrerrors.New(ocrerrors.CodeSchemaInvalid,
			fmt.Sprintf("unsupported schema_version %d", envelope.SchemaVersion))
	}

	if envelope.JobType != ocrtypes.JobTypeExtractRequested {
		return ocrerrors.New(ocrerrors.CodeSchemaInvalid,
			fmt.Sprintf("unexpected job_type %q", envelope.JobType))
	}

	if _, err := time.Parse(time.RFC3339, envelope.CreatedAt); err != nil {
		return ocrerrors.Wrap(ocrerrors.CodeSchemaInvalid, "created_at is not ISO-8601", err)
	}

	refs := envelope.Payload.ImageRefs
	if len(refs) < 1 || len(refs) > 8 {
		return ocrerrors.New(ocrerrors.CodeSchemaInvalid,
			fmt.Sprintf("image_refs must contain 1..8 entries, got %d", len(refs)))
	}

	seen := make(map[int]bool, len(refs))
	for _, ref := range refs {
		if !validKind(ref.Kind) {
			return ocrerrors.New(ocrerrors.CodeSchemaInvalid,
				fmt.Sprintf("unknown image_ref kind %q", ref.Kind))
		}
		if seen[ref.Index] {
			return ocrerrors.New(ocrerrors.CodeSchemaInvalid,
				fmt.Sprintf("duplicate image_ref index %d", ref.Index))
		}
		seen[ref.Index] = true
	}

	if envelope.Payload.ImageCount != 0 && envelope.Payload.ImageCount != len(refs) {
		return ocrerrors.New(ocrerrors.CodeSchemaInvalid,
			fmt.Sprintf("image_count %d does not match %d image_refs", envelope.Payload.ImageCount, len(refs)))
	}
	if envelope.Payload.ImageCount == 0 {
		envelope.Payload.ImageCount = len(refs)
	}

	if envelope.Payload.Options.Language != "" && strings.TrimSpace(envelope.Payload.Options.Language) == "" {
		return ocrerrors.New(ocrerrors.CodeSchemaInvalid, "options.language must be non-empty when present")
	}

	return nil
}

func validKind(kind ocrtypes.ImageKind) bool {
	switch kind {
	case ocrtypes.ImageKindLocalPath, ocrtypes.ImageKindS3, ocrtypes.ImageKindMinio, ocrtypes.ImageKindDB:
		return true
	default:
		return false
	}
}
