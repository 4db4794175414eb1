package ocrjob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrplatform/extraction-worker/internal/ocremit"
	"github.com/ocrplatform/extraction-worker/internal/ocrengine"
	"github.com/ocrplatform/extraction-worker/internal/ocrerrors"
	"github.com/ocrplatform/extraction-worker/internal/ocrjobctl"
	"github.com/ocrplatform/extraction-worker/internal/ocrjudge"
	"github.com/ocrplatform/extraction-worker/internal/ocrresolve"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

// recordingRedis is a minimal in-memory stand-in for redis.ClientInterface.
type recordingRedis struct {
	mu      sync.Mutex
	lpushed map[string][]string
	rpushed map[string][]string
}

func newRecordingRedis() *recordingRedis {
	return &recordingRedis{lpushed: map[string][]string{}, rpushed: map[string][]string{}}
}

func (r *recordingRedis) SetWithExpiration(context.Context, string, interface{}, time.Duration) error {
	return nil
}
func (r *recordingRedis) GetString(context.Context, string) (string, error)       { return "", nil }
func (r *recordingRedis) Delete(context.Context, ...string) error                 { return nil }
func (r *recordingRedis) Exists(context.Context, string) (bool, error)            { return false, nil }
func (r *recordingRedis) Close() error                                           { return nil }
func (r *recordingRedis) MGet(context.Context, ...string) ([]interface{}, error)   { return nil, nil }
func (r *recordingRedis) MGetStrings(context.Context, ...string) ([]string, error) { return nil, nil }
func (r *recordingRedis) GeoAdd(context.Context, string, float64, float64, string) error {
	return nil
}
func (r *recordingRedis) GeoRadius(context.Context, string, float64, float64, float64, int) ([]string, error) {
	return nil, nil
}
func (r *recordingRedis) GeoRemove(context.Context, string, string) error     { return nil }
func (r *recordingRedis) Expire(context.Context, string, time.Duration) error { return nil }
func (r *recordingRedis) BRPop(context.Context, time.Duration, ...string) (string, string, error) {
	return "", "", nil
}

func (r *recordingRedis) LPush(_ context.Context, key string, values ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		r.lpushed[key] = append(r.lpushed[key], v.(string))
	}
	return nil
}

func (r *recordingRedis) RPush(_ context.Context, key string, values ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		r.rpushed[key] = append(r.rpushed[key], v.(string))
	}
	return nil
}

// fakeResolver always resolves to the same bytes.
type fakeResolver struct{ bytes []byte }

func (f fakeResolver) Resolve(context.Context, ocrtypes.ImageRef) (ocrresolve.Result, error) {
	return ocrresolve.Result{Bytes: f.bytes, MediaType: "image/png"}, nil
}

// garbageAdapter always produces output too short to be judged, so
// every tier exhausts without ever suspending.
type garbageAdapter struct{}

func (garbageAdapter) Process(context.Context, []byte, string, ocrengine.Mode) (ocrengine.Result, error) {
	return ocrengine.Result{Text: "x"}, nil
}
func (garbageAdapter) Available(context.Context) bool { return true }

func newExhaustingController(t *testing.T) *ocrjobctl.Controller {
	t.Helper()
	resolver := ocrresolve.NewDispatcher(map[ocrtypes.ImageKind]ocrresolve.Resolver{
		ocrtypes.ImageKindLocalPath: fakeResolver{bytes: []byte("img")},
	})
	engines := ocrengine.NewRegistry(map[string]ocrengine.Adapter{
		"tesseract": garbageAdapter{},
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "gw-1"})
	}))
	t.Cleanup(server.Close)
	judge := ocrjudge.NewClient(ocrjudge.Config{GatewayURL: server.URL})
	return ocrjobctl.NewController(resolver, engines, judge, memBackedStore(), ocrjobctl.Config{MinValidChars: 1000})
}

func assertWrappedErr() error {
	return ocrerrors.New(ocrerrors.CodeRedisError, "redis unavailable")
}

// memStore is a minimal in-process ocrstate.Store for orchestrator tests.
type memStore struct {
	mu   sync.Mutex
	data map[string]ocrtypes.PendingState
}

func memBackedStore() *memStore {
	return &memStore{data: map[string]ocrtypes.PendingState{}}
}

func (m *memStore) Save(_ context.Context, id string, state ocrtypes.PendingState, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = state
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (ocrtypes.PendingState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	return s, ok, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func twoImageJob() ocrtypes.JobEnvelope {
	return ocrtypes.JobEnvelope{
		SchemaVersion: ocrtypes.SchemaVersion,
		JobID:         "job-1",
		WorkflowID:    "wf-1",
		JobType:       ocrtypes.JobTypeExtractRequested,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Attempt:       1,
		ReplyTo:       "q.out",
		Payload: ocrtypes.Payload{
			ImageRefs: []ocrtypes.ImageRef{
				{Kind: ocrtypes.ImageKindLocalPath, Value: "a.png", Index: 0},
				{Kind: ocrtypes.ImageKindLocalPath, Value: "b.png", Index: 1},
			},
		},
	}
}

func TestBegin_SchemaInvalidIsJobLevelFailureNoRetry(t *testing.T) {
	client := newRecordingRedis()
	emitter := ocremit.NewEmitter(client, "ocrworker")
	orch := NewOrchestrator(newExhaustingController(t), emitter, Config{JobQueueName: "q.in"})

	job := twoImageJob()
	job.SchemaVersion = 2 // invalid

	orch.Begin(t.Context(), job)

	require.Len(t, client.lpushed["q.out"], 1)
	var completion ocrtypes.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.lpushed["q.out"][0]), &completion))
	assert.Equal(t, ocrtypes.StatusFailed, completion.Payload.Status)
	assert.Equal(t, "schema_invalid", completion.Payload.Error.Code)
	assert.Empty(t, completion.Payload.Results)
	assert.Empty(t, client.rpushed["q.in"])
}

func TestBegin_DrivesBothImagesWithoutSuspension(t *testing.T) {
	client := newRecordingRedis()
	emitter := ocremit.NewEmitter(client, "ocrworker")
	orch := NewOrchestrator(newExhaustingController(t), emitter, Config{JobQueueName: "q.in", MaxAttempts: 3})

	orch.Begin(t.Context(), twoImageJob())

	require.Len(t, client.lpushed["q.out"], 1)
	var completion ocrtypes.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.lpushed["q.out"][0]), &completion))
	require.Len(t, completion.Payload.Results, 2)
	assert.Equal(t, 0, completion.Payload.Results[0].Index)
	assert.Equal(t, 1, completion.Payload.Results[1].Index)
	assert.Equal(t, ocrtypes.StatusFailed, completion.Payload.Status)
	require.NotNil(t, completion.Payload.Results[0].Error)
	assert.Equal(t, "ocr_no_valid_output", completion.Payload.Results[0].Error.Code)
	require.NotNil(t, completion.Payload.Results[1].Error)
	assert.Equal(t, "ocr_no_valid_output", completion.Payload.Results[1].Error.Code)
	// Exhaustion is reported per image, so the job-level error stays empty
	// and no retry is scheduled.
	assert.Empty(t, completion.Payload.Error.Code)
	assert.Empty(t, client.rpushed["q.in"])
}

func TestBegin_SuspensionStopsBeforeSecondImage(t *testing.T) {
	resolver := ocrresolve.NewDispatcher(map[ocrtypes.ImageKind]ocrresolve.Resolver{
		ocrtypes.ImageKindLocalPath: fakeResolver{bytes: []byte("img")},
	})
	engines := ocrengine.NewRegistry(map[string]ocrengine.Adapter{
		"tesseract": legibleAdapter{},
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "gw-1"})
	}))
	t.Cleanup(server.Close)
	judge := ocrjudge.NewClient(ocrjudge.Config{GatewayURL: server.URL})
	store := memBackedStore()
	controller := ocrjobctl.NewController(resolver, engines, judge, store, ocrjobctl.Config{})

	client := newRecordingRedis()
	emitter := ocremit.NewEmitter(client, "ocrworker")
	orch := NewOrchestrator(controller, emitter, Config{JobQueueName: "q.in"})

	orch.Begin(t.Context(), twoImageJob())

	// The first image suspends waiting on a judge verdict; no
	// completion should have been published yet.
	assert.Empty(t, client.lpushed["q.out"])
}

// legibleAdapter always produces output that clears the minimum
// valid character floor, so the controller suspends awaiting judgment.
type legibleAdapter struct{}

func (legibleAdapter) Process(context.Context, []byte, string, ocrengine.Mode) (ocrengine.Result, error) {
	return ocrengine.Result{Text: "a perfectly legible line of text"}, nil
}
func (legibleAdapter) Available(context.Context) bool { return true }

func TestResumeAfterCallback_ContinuesToNextImage(t *testing.T) {
	resolver := ocrresolve.NewDispatcher(map[ocrtypes.ImageKind]ocrresolve.Resolver{
		ocrtypes.ImageKindLocalPath: fakeResolver{bytes: []byte("img")},
	})
	engines := ocrengine.NewRegistry(map[string]ocrengine.Adapter{
		"tesseract": legibleAdapter{},
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "gw-1"})
	}))
	t.Cleanup(server.Close)
	judge := ocrjudge.NewClient(ocrjudge.Config{GatewayURL: server.URL})
	store := memBackedStore()
	controller := ocrjobctl.NewController(resolver, engines, judge, store, ocrjobctl.Config{})

	client := newRecordingRedis()
	emitter := ocremit.NewEmitter(client, "ocrworker")
	orch := NewOrchestrator(controller, emitter, Config{JobQueueName: "q.in"})

	job := twoImageJob()
	orch.Begin(t.Context(), job)
	assert.Empty(t, client.lpushed["q.out"])

	state := ocrtypes.PendingState{
		OriginalJob: job,
		ImageIndex:  0,
		TierName:    "tesseract",
		OCRText:     "a perfectly legible line of text",
	}
	orch.ResumeAfterCallback(t.Context(), state, ocrtypes.Verdict{IsValid: true, Confidence: 0.95})

	// Image 1 also produces legible output and suspends again; no
	// completion has been published yet, but no error occurred either.
	assert.Empty(t, client.lpushed["q.out"])

	state2 := ocrtypes.PendingState{
		OriginalJob:      job,
		ImageIndex:       1,
		TierName:         "tesseract",
		OCRText:          "a perfectly legible line of text",
		ProcessedResults: []ocrtypes.ResultRecord{{Index: 0, Meta: ocrtypes.ResultMeta{IsValid: true}}},
	}
	orch.ResumeAfterCallback(t.Context(), state2, ocrtypes.Verdict{IsValid: true, Confidence: 0.95})

	require.Len(t, client.lpushed["q.out"], 1)
	var completion ocrtypes.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.lpushed["q.out"][0]), &completion))
	require.Len(t, completion.Payload.Results, 2)
	assert.Equal(t, ocrtypes.StatusSuccess, completion.Payload.Status)
}

func TestMaybeRetry_RetryableCodeRequeuesInboundWithIncrementedAttempt(t *testing.T) {
	client := newRecordingRedis()
	emitter := ocremit.NewEmitter(client, "ocrworker")
	orch := NewOrchestrator(newExhaustingController(t), emitter, Config{JobQueueName: "q.in", MaxAttempts: 3})

	job := twoImageJob()
	orch.finishJobLevel(t.Context(), job, assertWrappedErr())

	require.Len(t, client.rpushed["q.in"], 1)
	var retried ocrtypes.JobEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.rpushed["q.in"][0]), &retried))
	assert.Equal(t, 2, retried.Attempt)
}

func TestMaybeRetry_ExhaustedAttemptsDoesNotRequeue(t *testing.T) {
	client := newRecordingRedis()
	emitter := ocremit.NewEmitter(client, "ocrworker")
	orch := NewOrchestrator(newExhaustingController(t), emitter, Config{JobQueueName: "q.in", MaxAttempts: 3})

	job := twoImageJob()
	job.Attempt = 3
	orch.finishJobLevel(t.Context(), job, assertWrappedErr())

	assert.Empty(t, client.rpushed["q.in"])
}
