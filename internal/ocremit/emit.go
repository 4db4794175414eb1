// Package ocremit implements the completion emitter: sorts per-image
// results, shapes a completion envelope, and dispatches it to the
// caller-specified reply_to queue under the dispatcher's framing
// rules.
package ocremit

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
	"github.com/ocrplatform/extraction-worker/pkg/logger"
	"github.com/ocrplatform/extraction-worker/pkg/redis"
)

// jarvisRecipesQueue is the one reply_to name that gets the named
// function-call wrapper instead of a raw JSON push.
const jarvisRecipesQueue = "jarvis.recipes.jobs"

const jarvisFunctionName = "jarvis_recipes.app.services.queue_worker.process_job"

const jarvisTimeout = 10 * time.Minute

// Emitter publishes completion envelopes to reply queues.
type Emitter struct {
	client     redis.ClientInterface
	serviceName string
	now        func() time.Time
}

// NewEmitter builds an Emitter bound to a Redis client. serviceName is
// used as the completion envelope's source field.
func NewEmitter(client redis.ClientInterface, serviceName string) *Emitter {
	return &Emitter{client: client, serviceName: serviceName, now: time.Now}
}

type jarvisEnvelope struct {
	FunctionName string          `json:"function_name"`
	Envelope     json.RawMessage `json:"envelope"`
	JobID        string          `json:"job_id"`
	TimeoutSec   int             `json:"timeout_seconds"`
}

// Build sorts results by index and shapes the outbound completion
// envelope.
func (e *Emitter) Build(inbound ocrtypes.JobEnvelope, results []ocrtypes.ResultRecord, jobLevelErr *ocrtypes.ErrorInfo) ocrtypes.CompletionEnvelope {
	sorted := append([]ocrtypes.ResultRecord(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	status := ocrtypes.StatusFailed
	for _, r := range sorted {
		if r.Meta.IsValid {
			status = ocrtypes.StatusSuccess
			break
		}
	}

	errInfo := ocrtypes.ErrorInfo{}
	if status == ocrtypes.StatusFailed && jobLevelErr != nil {
		errInfo = *jobLevelErr
	}

	requestID := inbound.JobID
	trace := ocrtypes.Trace{ParentJobID: &requestID}

	return ocrtypes.CompletionEnvelope{
		SchemaVersion: ocrtypes.SchemaVersion,
		JobID:         uuid.NewString(),
		WorkflowID:    inbound.WorkflowID,
		JobType:       ocrtypes.JobTypeCompleted,
		Source:        e.serviceName,
		Target:        inbound.Source,
		CreatedAt:     ocrtypes.NowISO8601(e.now()),
		Attempt:       inbound.Attempt,
		ReplyTo:       inbound.ReplyTo,
		Payload: ocrtypes.CompletionPayload{
			Status:      status,
			Results:     sorted,
			ArtifactRef: nil,
			Error:       errInfo,
		},
		Trace: trace,
	}
}

// Emit dispatches a completion envelope to its reply_to queue,
// applying the jarvis.recipes.jobs dispatcher framing when applicable.
// It logs and returns false on publish failure; the emitter never
// retries a failed publish itself.
func (e *Emitter) Emit(ctx context.Context, completion ocrtypes.CompletionEnvelope) bool {
	if completion.ReplyTo == "" {
		logger.Get().Error("completion has no reply_to, dropping",
			zap.String("job_id", completion.JobID),
		)
		return false
	}

	envelopeJSON, err := json.Marshal(completion)
	if err != nil {
		logger.Get().Error("failed marshaling completion envelope",
			zap.String("job_id", completion.JobID),
			zap.Error(err),
		)
		return false
	}

	if completion.ReplyTo == jarvisRecipesQueue && completion.JobType == ocrtypes.JobTypeCompleted {
		wrapped, err := json.Marshal(jarvisEnvelope{
			FunctionName: jarvisFunctionName,
			Envelope:     envelopeJSON,
			JobID:        completion.JobID,
			TimeoutSec:   int(jarvisTimeout.Seconds()),
		})
		if err != nil {
			logger.Get().Error("failed marshaling jarvis wrapper", zap.Error(err))
			return false
		}
		if err := e.client.LPush(ctx, completion.ReplyTo, string(wrapped)); err != nil {
			logger.Get().Error("failed publishing jarvis-framed completion",
				zap.String("reply_to", completion.ReplyTo),
				zap.Error(err),
			)
			return false
		}
		return true
	}

	if err := e.client.LPush(ctx, completion.ReplyTo, string(envelopeJSON)); err != nil {
		logger.Get().Error("failed publishing completion",
			zap.String("reply_to", completion.ReplyTo),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Requeue republishes the inbound envelope to the back of its job
// queue with attempt incremented, per the retry policy. The inbound
// envelope is otherwise never mutated before retry.
func (e *Emitter) Requeue(ctx context.Context, queueName string, inbound ocrtypes.JobEnvelope) error {
	retried := inbound
	retried.Attempt++

	data, err := json.Marshal(retried)
	if err != nil {
		return err
	}
	return e.client.RPush(ctx, queueName, string(data))
}
