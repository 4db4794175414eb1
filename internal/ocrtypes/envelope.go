// Package ocrtypes defines the wire shapes for job and completion envelopes
// exchanged over the OCR extraction queue.
package ocrtypes

import "time"

// SchemaVersion is the only envelope schema version this service accepts.
const SchemaVersion = 1

// JobType values recognized on the queue.
const (
	JobTypeExtractRequested = "ocr.extract_text.requested"
	JobTypeCompleted        = "ocr.completed"
)

// ImageKind enumerates supported image reference transports.
type ImageKind string

const (
	ImageKindLocalPath ImageKind = "local_path"
	ImageKindS3        ImageKind = "s3"
	ImageKindMinio     ImageKind = "minio"
	ImageKindDB        ImageKind = "db"
)

// ImageRef identifies one image within a job's payload.
type ImageRef struct {
	Kind  ImageKind `json:"kind" validate:"required"`
	Value string    `json:"value" validate:"required"`
	Index int       `json:"index" validate:"gte=0"`
}

// Options carries per-job OCR tuning supplied by the caller.
type Options struct {
	Language string `json:"language,omitempty"`
}

// Payload is the inbound job's body.
type Payload struct {
	ImageRefs  []ImageRef `json:"image_refs" validate:"required,min=1,max=8,dive"`
	ImageCount int        `json:"image_count,omitempty"`
	Options    Options    `json:"options,omitempty"`
}

// Trace carries caller correlation handles.
type Trace struct {
	RequestID   *string `json:"request_id"`
	ParentJobID *string `json:"parent_job_id"`
}

// JobEnvelope is the inbound (and, reshaped, outbound) queue message.
type JobEnvelope struct {
	SchemaVersion int     `json:"schema_version" validate:"required"`
	JobID         string  `json:"job_id" validate:"required"`
	WorkflowID    string  `json:"workflow_id" validate:"required"`
	JobType       string  `json:"job_type" validate:"required"`
	Source        string  `json:"source"`
	Target        string  `json:"target"`
	CreatedAt     string  `json:"created_at" validate:"required"`
	Attempt       int     `json:"attempt" validate:"gte=1"`
	ReplyTo       string  `json:"reply_to" validate:"required"`
	Payload       Payload `json:"payload" validate:"required"`
	Trace         Trace   `json:"trace"`
}

// ErrorInfo is a bounded, machine-readable error shape used at both the
// per-image and job level of a completion envelope.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultMeta carries per-image OCR/validation metadata.
type ResultMeta struct {
	Language         string   `json:"language"`
	Confidence       float64  `json:"confidence"`
	TextLen          int      `json:"text_len"`
	IsValid          bool     `json:"is_valid"`
	Tier             string   `json:"tier"`
	ValidationReason *string  `json:"validation_reason"`
}

// ResultRecord is one image's outcome within a completion envelope.
type ResultRecord struct {
	Index      int        `json:"index"`
	OCRText    string     `json:"ocr_text"`
	Truncated  bool       `json:"truncated"`
	Meta       ResultMeta `json:"meta"`
	Error      *ErrorInfo `json:"error"`
}

// CompletionStatus is the terminal job-level status.
type CompletionStatus string

const (
	StatusSuccess CompletionStatus = "success"
	StatusFailed  CompletionStatus = "failed"
)

// CompletionPayload is the body of an outbound completion envelope.
type CompletionPayload struct {
	Status      CompletionStatus `json:"status"`
	Results     []ResultRecord   `json:"results"`
	ArtifactRef *string          `json:"artifact_ref"`
	Error       ErrorInfo        `json:"error"`
}

// CompletionEnvelope is the outbound terminal message published to
// reply_to. It mirrors JobEnvelope's header shape but carries a
// CompletionPayload rather than the inbound Payload.
type CompletionEnvelope struct {
	SchemaVersion int               `json:"schema_version"`
	JobID         string            `json:"job_id"`
	WorkflowID    string            `json:"workflow_id"`
	JobType       string            `json:"job_type"`
	Source        string            `json:"source"`
	Target        string            `json:"target"`
	CreatedAt     string            `json:"created_at"`
	Attempt       int               `json:"attempt"`
	ReplyTo       string            `json:"reply_to"`
	Payload       CompletionPayload `json:"payload"`
	Trace         Trace             `json:"trace"`
}

// NowISO8601 returns the current time formatted the way CreatedAt fields
// are expected to be formatted on envelopes this service emits.
func NowISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
