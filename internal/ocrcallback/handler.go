// Package ocrcallback implements the callback receiver: the HTTP
// endpoint the LLM gateway calls back with a judge verdict, which
// resumes the per-image workflow suspended at JUDGING.
package ocrcallback

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ocrplatform/extraction-worker/internal/ocrjob"
	"github.com/ocrplatform/extraction-worker/internal/ocrstate"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
	"github.com/ocrplatform/extraction-worker/pkg/common"
	"github.com/ocrplatform/extraction-worker/pkg/logger"
)

// reasonLimit bounds the verdict's free-text reason.
const reasonLimit = 200

// Handler serves POST /internal/validation/callback.
type Handler struct {
	store        ocrstate.Store
	orchestrator *ocrjob.Orchestrator
}

// NewHandler builds a Handler bound to the state store and the
// orchestrator that owns resuming a suspended job.
func NewHandler(store ocrstate.Store, orchestrator *ocrjob.Orchestrator) *Handler {
	return &Handler{store: store, orchestrator: orchestrator}
}

type callbackRequest struct {
	JobID    string           `json:"job_id"`
	Status   string           `json:"status"`
	Result   *callbackResult  `json:"result"`
	Error    *callbackError   `json:"error"`
	Metadata callbackMetadata `json:"metadata"`
}

type callbackResult struct {
	Content string `json:"content"`
}

type callbackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type callbackMetadata struct {
	ValidationStateKey string `json:"validation_state_key"`
}

type verdictContent struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Handle implements the callback-processing procedure.
func (h *Handler) Handle(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid callback body")
		return
	}

	if strings.TrimSpace(req.Metadata.ValidationStateKey) == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "metadata.validation_state_key is required")
		return
	}

	validationJobID, ok := ocrstate.IDFromKey(req.Metadata.ValidationStateKey)
	if !ok {
		validationJobID = req.Metadata.ValidationStateKey
	}

	ctx := c.Request.Context()
	state, ok, err := h.store.Get(ctx, validationJobID)
	if err != nil {
		logger.Get().Error("callback: state store lookup failed",
			zap.String("validation_job_id", validationJobID),
			zap.Error(err),
		)
		common.ErrorResponse(c, http.StatusInternalServerError, "state store lookup failed")
		return
	}
	if !ok {
		common.ErrorResponse(c, http.StatusNotFound, "validation state not found or expired")
		return
	}

	verdict := parseVerdict(req)

	if err := h.store.Delete(ctx, validationJobID); err != nil {
		logger.Get().Error("callback: state delete failed",
			zap.String("validation_job_id", validationJobID),
			zap.Error(err),
		)
	}

	h.orchestrator.ResumeAfterCallback(ctx, state, verdict)

	c.JSON(http.StatusOK, gin.H{"status": "ok", "processed": true})
}

// parseVerdict implements the verdict parsing rules.
func parseVerdict(req callbackRequest) ocrtypes.Verdict {
	if req.Status == "failed" {
		msg := ""
		if req.Error != nil {
			msg = req.Error.Message
		}
		return ocrtypes.Verdict{IsValid: false, Confidence: 0, Reason: truncate(msg, reasonLimit)}
	}

	content := ""
	if req.Result != nil {
		content = req.Result.Content
	}

	var parsed verdictContent
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ocrtypes.Verdict{IsValid: false, Confidence: 0, Reason: "parse failure: judge response was not strict JSON"}
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return ocrtypes.Verdict{
		IsValid:    parsed.IsValid,
		Confidence: confidence,
		Reason:     truncate(parsed.Reason, reasonLimit),
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
