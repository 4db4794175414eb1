// Package ocrjob implements the job orchestrator: it drives the
// per-image tier controller across a job's images strictly in index
// order, distinguishes job-level failures from per-image ones, applies
// the retry policy once a completion is built, and hands the result to
// the completion emitter.
package ocrjob

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/ocrplatform/extraction-worker/internal/ocremit"
	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrjobctl"
	"github.com/ocrplatform/extraction-worker/internal/ocrschema"
	"github.com/ocrplatform/extraction-worker/internal/ocrtier"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
	"github.com/ocrplatform/extraction-worker/pkg/logger"
)

// Config carries the tuning knobs this orchestrator applies.
type Config struct {
	JobQueueName string
	MaxAttempts  int
	EnabledTiers []string
}

// Orchestrator owns the per-job sequential drive across images and the
// retry decision once a job finishes.
type Orchestrator struct {
	controller *ocrjobctl.Controller
	emitter    *ocremit.Emitter
	cfg        Config
}

// NewOrchestrator builds an Orchestrator from its collaborators.
func NewOrchestrator(controller *ocrjobctl.Controller, emitter *ocremit.Emitter, cfg Config) *Orchestrator {
	return &Orchestrator{controller: controller, emitter: emitter, cfg: cfg}
}

func (o *Orchestrator) maxAttempts() int {
	if o.cfg.MaxAttempts <= 0 {
		return 3
	}
	return o.cfg.MaxAttempts
}

func (o *Orchestrator) tiers() []ocrtier.Tier {
	return ocrtier.FilterOrder(o.cfg.EnabledTiers)
}

// sortedRefs returns the job's image references in ascending index
// order, regardless of the order they arrived in the payload.
func sortedRefs(job ocrtypes.JobEnvelope) []ocrtypes.ImageRef {
	refs := append([]ocrtypes.ImageRef(nil), job.Payload.ImageRefs...)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Index < refs[j].Index })
	return refs
}

// Begin validates the inbound envelope and starts driving its images
// from the first one. It is the entry point used by the dequeue loop
// after a successful dequeue.
func (o *Orchestrator) Begin(ctx context.Context, job ocrtypes.JobEnvelope) {
	if err := ocrschema.Validate(&job); err != nil {
		o.finishJobLevel(ctx, job, err)
		return
	}
	o.drive(ctx, job, 0, nil)
}

// ResumeAfterCallback continues a job after the callback receiver has
// resumed the suspended image identified by state. If the resume
// itself suspends again (escalated to the next tier), there is nothing
// further to do here; the next callback will re-enter through this
// same path.
func (o *Orchestrator) ResumeAfterCallback(ctx context.Context, state ocrtypes.PendingState, verdict ocrtypes.Verdict) {
	outcome, err := o.controller.Resume(ctx, state, verdict)
	if err != nil {
		o.finishJobLevel(ctx, state.OriginalJob, err)
		return
	}
	if outcome.Suspended {
		return
	}

	processed := append(append([]ocrtypes.ResultRecord(nil), state.ProcessedResults...), outcome.Result)
	o.drive(ctx, state.OriginalJob, state.ImageIndex+1, processed)
}

// drive runs images starting at startIndex (in the job's index-sorted
// order) through the tier controller, stopping either at the first
// suspension or once every image has reached a final verdict.
func (o *Orchestrator) drive(ctx context.Context, job ocrtypes.JobEnvelope, startIndex int, processed []ocrtypes.ResultRecord) {
	refs := sortedRefs(job)
	tiers := o.tiers()

	for _, ref := range refs {
		if ref.Index < startIndex {
			continue
		}

		outcome, err := o.controller.Begin(ctx, job, ref, tiers, processed)
		if err != nil {
			o.finishJobLevel(ctx, job, err)
			return
		}
		if outcome.Suspended {
			return
		}
		processed = append(processed, outcome.Result)
	}

	o.finish(ctx, job, processed, nil)
}

// finishJobLevel reports a failure that prevented the job from
// producing any per-image result at all: envelope-schema invalid, or
// an unexpected in-process error before any image finalized.
func (o *Orchestrator) finishJobLevel(ctx context.Context, job ocrtypes.JobEnvelope, err error) {
	code := ocrerrors.CodeOf(err)
	o.finish(ctx, job, nil, &ocrtypes.ErrorInfo{
		Code:    string(code),
		Message: err.Error(),
	})
}

// finish builds the completion envelope, applies the retry policy,
// and always publishes the completion to reply_to regardless of the
// retry decision.
func (o *Orchestrator) finish(ctx context.Context, job ocrtypes.JobEnvelope, results []ocrtypes.ResultRecord, jobErr *ocrtypes.ErrorInfo) {
	completion := o.emitter.Build(job, results, jobErr)

	if completion.Payload.Status == ocrtypes.StatusFailed {
		o.maybeRetry(ctx, job, ocrerrors.Code(completion.Payload.Error.Code))
	}

	o.emitter.Emit(ctx, completion)
}

// maybeRetry republishes the inbound envelope, attempt incremented,
// to the back of the job queue when the job-level error code is
// retryable and the attempt budget is not exhausted.
func (o *Orchestrator) maybeRetry(ctx context.Context, job ocrtypes.JobEnvelope, code ocrerrors.Code) {
	if !ocrerrors.Retryable(code) {
		return
	}
	if job.Attempt >= o.maxAttempts() {
		return
	}
	if err := o.emitter.Requeue(ctx, o.cfg.JobQueueName, job); err != nil {
		logger.Get().Error("failed requeueing job for retry",
			zap.String("job_id", job.JobID),
			zap.Error(err),
		)
	}
}
