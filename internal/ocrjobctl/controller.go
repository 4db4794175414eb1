// Package ocrjobctl implements the per-image tier controller: the
// state machine driving one image through resolve, tiered OCR, and
// judge validation. It is not a long-running coroutine but a pair of
// plain functions, Begin and Resume, each of which returns either a
// suspended-at-judging outcome or a final per-image result.
package ocrjobctl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ocrplatform/extraction-worker/internal/ocrengine"
	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrjudge"
	"github.com/ocrplatform/extraction-worker/internal/ocrresolve"
	"github.com/ocrplatform/extraction-worker/internal/ocrstate"
	"github.com/ocrplatform/extraction-worker/internal/ocrtext"
	"github.com/ocrplatform/extraction-worker/internal/ocrtier"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

// Config carries the tuning knobs this controller applies directly.
type Config struct {
	MaxOutputBytes    int
	MinValidChars     int
	MinConfidence     *float64
	ValidationTTLSecs int
	CallbackURL       string
}

// Controller wires the collaborators the tier loop depends on: the
// image resolver, the engine registry, the judge client, and the
// validation state store.
type Controller struct {
	resolver *ocrresolve.Dispatcher
	engines  *ocrengine.Registry
	judge    *ocrjudge.Client
	store    ocrstate.Store
	cfg      Config
}

// NewController builds a Controller from its collaborators.
func NewController(resolver *ocrresolve.Dispatcher, engines *ocrengine.Registry, judge *ocrjudge.Client, store ocrstate.Store, cfg Config) *Controller {
	return &Controller{resolver: resolver, engines: engines, judge: judge, store: store, cfg: cfg}
}

// Outcome is what Begin/Resume return: either the image's workflow has
// suspended waiting on a judge verdict, or it has reached a final
// per-image result.
type Outcome struct {
	Suspended bool
	Result    ocrtypes.ResultRecord
}

// Begin drives a single image from RESOLVING through to either a
// JUDGING suspension (state persisted, judge enqueued) or a final
// per-image result.
func (c *Controller) Begin(ctx context.Context, job ocrtypes.JobEnvelope, ref ocrtypes.ImageRef, tierOrder []ocrtier.Tier, processedResults []ocrtypes.ResultRecord) (Outcome, error) {
	resolved, err := c.resolver.Resolve(ctx, ref)
	if err != nil {
		return Outcome{Result: failResult(ref.Index, "unknown", err)}, nil
	}

	return c.runTierLoop(ctx, job, ref, resolved.Bytes, tierOrder, processedResults)
}

// Resume continues a suspended image from JUDGED once the callback
// receiver has parsed a verdict.
func (c *Controller) Resume(ctx context.Context, state ocrtypes.PendingState, verdict ocrtypes.Verdict) (Outcome, error) {
	confidence := clampConfidence(verdict.Confidence)
	isValid := verdict.IsValid
	if c.cfg.MinConfidence != nil && confidence < *c.cfg.MinConfidence {
		isValid = false
	}

	if isValid {
		reason := truncateChars(verdict.Reason, 200)
		return Outcome{Result: ocrtypes.ResultRecord{
			Index:     state.ImageIndex,
			OCRText:   state.OCRText,
			Truncated: state.Truncated,
			Meta: ocrtypes.ResultMeta{
				Confidence:       confidence,
				TextLen:          len(state.OCRText),
				IsValid:          true,
				Tier:             state.TierName,
				ValidationReason: &reason,
			},
		}}, nil
	}

	remaining := parseTiers(state.RemainingTiers)
	if len(remaining) == 0 {
		return Outcome{Result: ocrtypes.ResultRecord{
			Index: state.ImageIndex,
			Meta: ocrtypes.ResultMeta{
				IsValid: false,
				Tier:    state.TierName,
			},
			Error: &ocrtypes.ErrorInfo{
				Code:    string(ocrerrors.CodeNoValidOutput),
				Message: "all enabled tiers produced invalid output",
			},
		}}, nil
	}

	ref, ok := findRef(state.OriginalJob, state.ImageIndex)
	if !ok {
		return Outcome{}, fmt.Errorf("ocrjobctl: image index %d not found in original job", state.ImageIndex)
	}

	resolved, err := c.resolver.Resolve(ctx, ref)
	if err != nil {
		return Outcome{Result: failResult(ref.Index, "unknown", err)}, nil
	}

	return c.runTierLoop(ctx, state.OriginalJob, ref, resolved.Bytes, remaining, state.ProcessedResults)
}

// runTierLoop attempts tiers in order. A tier is skipped when it has no
// registered adapter, its engine returns an error, its normalized output
// has fewer valid characters than the configured minimum, or the judge
// enqueue fails. The first tier that gets past these saves its pending
// state, enqueues the judge and suspends the loop; if that save fails,
// the image ends with an infrastructure-failure result instead. If every
// tier is skipped the image fails with ocr_no_valid_output.
func (c *Controller) runTierLoop(ctx context.Context, job ocrtypes.JobEnvelope, ref ocrtypes.ImageRef, imageBytes []byte, tiers []ocrtier.Tier, processedResults []ocrtypes.ResultRecord) (Outcome, error) {
	lastTier := "unknown"

	for i, tier := range tiers {
		lastTier = string(tier)

		provider, err := ocrtier.ToProvider(tier)
		if err != nil {
			continue
		}
		adapter, err := c.engines.Get(provider)
		if err != nil {
			continue
		}

		language := job.Payload.Options.Language
		if language == "" {
			language = "en"
		}

		result, err := adapter.Process(ctx, imageBytes, language, ocrengine.ModeDefault)
		if err != nil {
			continue
		}

		normalized := ocrtext.Normalize(result.Text)
		if countValidChars(normalized) < c.minValidChars() {
			continue
		}

		truncated, wasCut := ocrtext.Truncate(normalized, c.maxBytes())

		validationJobID := uuid.NewString()
		state := ocrtypes.PendingState{
			OriginalJob:      job,
			ImageIndex:       ref.Index,
			TierName:         string(tier),
			OCRText:          truncated,
			Truncated:        wasCut,
			RemainingTiers:   tierNames(tiers[i+1:]),
			ProcessedResults: processedResults,
			ValidationJobID:  validationJobID,
		}

		if err := c.store.Save(ctx, validationJobID, state, c.ttl()); err != nil {
			return Outcome{Result: jobInfraFailure(ref.Index, lastTier, err)}, nil
		}

		validationKey := "ocr:pending_validation:" + validationJobID
		_, err = c.judge.Enqueue(ctx, ocrjudge.EnqueueParams{
			ValidationJobID: validationJobID,
			ValidationKey:   validationKey,
			OCRJobID:        job.JobID,
			WorkflowID:      job.WorkflowID,
			ImageIndex:      ref.Index,
			TierName:        string(tier),
			OCRText:         truncated,
			CallbackURL:     c.cfg.CallbackURL,
		})
		if err != nil {
			_ = c.store.Delete(ctx, validationJobID)
			continue
		}

		return Outcome{Suspended: true}, nil
	}

	return Outcome{Result: ocrtypes.ResultRecord{
		Index: ref.Index,
		Meta: ocrtypes.ResultMeta{
			IsValid: false,
			Tier:    lastTier,
		},
		Error: &ocrtypes.ErrorInfo{
			Code:    string(ocrerrors.CodeNoValidOutput),
			Message: "all enabled tiers produced invalid output",
		},
	}}, nil
}

func (c *Controller) maxBytes() int {
	if c.cfg.MaxOutputBytes <= 0 {
		return ocrtext.DefaultMaxBytes
	}
	return c.cfg.MaxOutputBytes
}

func (c *Controller) minValidChars() int {
	if c.cfg.MinValidChars <= 0 {
		return 3
	}
	return c.cfg.MinValidChars
}

func countValidChars(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func truncateChars(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func tierNames(tiers []ocrtier.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}

func parseTiers(names []string) []ocrtier.Tier {
	out := make([]ocrtier.Tier, 0, len(names))
	for _, n := range names {
		out = append(out, ocrtier.Tier(n))
	}
	return out
}

func findRef(job ocrtypes.JobEnvelope, index int) (ocrtypes.ImageRef, bool) {
	for _, ref := range job.Payload.ImageRefs {
		if ref.Index == index {
			return ref, true
		}
	}
	return ocrtypes.ImageRef{}, false
}

func failResult(index int, tier string, err error) ocrtypes.ResultRecord {
	code := ocrerrors.CodeOf(err)
	return ocrtypes.ResultRecord{
		Index: index,
		Meta: ocrtypes.ResultMeta{
			IsValid: false,
			Tier:    tier,
		},
		Error: &ocrtypes.ErrorInfo{
			Code:    string(code),
			Message: truncateChars(err.Error(), 200),
		},
	}
}

func jobInfraFailure(index int, tier string, err error) ocrtypes.ResultRecord {
	return ocrtypes.ResultRecord{
		Index: index,
		Meta: ocrtypes.ResultMeta{
			IsValid: false,
			Tier:    tier,
		},
		Error: &ocrtypes.ErrorInfo{
			Code:    string(ocrerrors.CodeRedisError),
			Message: truncateChars(err.Error(), 200),
		},
	}
}

func (c *Controller) ttl() time.Duration {
	if c.cfg.ValidationTTLSecs <= 0 {
		return ocrstate.DefaultTTL
	}
	return time.Duration(c.cfg.ValidationTTLSecs) * time.Second
}
