package ocrjudge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_BuildsPromptAndHeaders(t *testing.T) {
	var captured enqueueRequest
	var gotHeader1, gotHeader2 string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader1 = r.Header.Get("X-Auth-One")
		gotHeader2 = r.Header.Get("X-Auth-Two")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(enqueueResponse{JobID: "judge-123"})
	}))
	defer srv.Close()

	c := NewClient(Config{
		GatewayURL:  srv.URL,
		AuthHeader1: "X-Auth-One",
		AuthValue1:  "secret1",
		AuthHeader2: "X-Auth-Two",
		AuthValue2:  "secret2",
		Model:       "judge-model",
		Timeout:     2 * time.Second,
	})

	longText := strings.Repeat("a", 1000)
	jobID, err := c.Enqueue(t.Context(), EnqueueParams{
		ValidationJobID: "vjob-1",
		ValidationKey:   "ocr:pending_validation:vjob-1",
		OCRJobID:        "job-1",
		WorkflowID:      "wf-1",
		ImageIndex:      0,
		TierName:        "tesseract",
		OCRText:         longText,
		CallbackURL:     "https://worker.example/internal/validation/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "judge-123", jobID)
	assert.Equal(t, "secret1", gotHeader1)
	assert.Equal(t, "secret2", gotHeader2)
	assert.Equal(t, "vjob-1", captured.JobID)
	assert.Equal(t, "chat_completion", captured.JobType)
	assert.LessOrEqual(t, len(captured.Request.Messages[0].Content)-len(judgeSystemPrompt), promptTextLimit+60)
	assert.Equal(t, "ocr:pending_validation:vjob-1", captured.Metadata.ValidationStateKey)
}

func TestEnqueue_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{GatewayURL: srv.URL, Timeout: time.Second})
	_, err := c.Enqueue(t.Context(), EnqueueParams{ValidationJobID: "v1", CallbackURL: "https://x"})
	assert.Error(t, err)
}
