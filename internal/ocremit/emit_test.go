package ocremit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

type recordingRedis struct {
	lpushed map[string][]string
	rpushed map[string][]string
}

func newRecordingRedis() *recordingRedis {
	return &recordingRedis{lpushed: map[string][]string{}, rpushed: map[string][]string{}}
}

func (r *recordingRedis) SetWithExpiration(context.Context, string, interface{}, time.Duration) error {
	return nil
}
func (r *recordingRedis) GetString(context.Context, string) (string, error)         { return "", nil }
func (r *recordingRedis) Delete(context.Context, ...string) error                   { return nil }
func (r *recordingRedis) Exists(context.Context, string) (bool, error)              { return false, nil }
func (r *recordingRedis) Close() error                                              { return nil }
func (r *recordingRedis) MGet(context.Context, ...string) ([]interface{}, error)     { return nil, nil }
func (r *recordingRedis) MGetStrings(context.Context, ...string) ([]string, error)   { return nil, nil }
func (r *recordingRedis) GeoAdd(context.Context, string, float64, float64, string) error {
	return nil
}
func (r *recordingRedis) GeoRadius(context.Context, string, float64, float64, float64, int) ([]string, error) {
	return nil, nil
}
func (r *recordingRedis) GeoRemove(context.Context, string, string) error      { return nil }
func (r *recordingRedis) Expire(context.Context, string, time.Duration) error { return nil }
func (r *recordingRedis) BRPop(context.Context, time.Duration, ...string) (string, string, error) {
	return "", "", nil
}

func (r *recordingRedis) LPush(_ context.Context, key string, values ...interface{}) error {
	for _, v := range values {
		r.lpushed[key] = append(r.lpushed[key], v.(string))
	}
	return nil
}

func (r *recordingRedis) RPush(_ context.Context, key string, values ...interface{}) error {
	for _, v := range values {
		r.rpushed[key] = append(r.rpushed[key], v.(string))
	}
	return nil
}

func sampleInbound() ocrtypes.JobEnvelope {
	return ocrtypes.JobEnvelope{
		JobID:      "job-1",
		WorkflowID: "wf-1",
		Source:     "caller",
		ReplyTo:    "q.out",
		Attempt:    1,
		Payload: ocrtypes.Payload{
			ImageRefs: []ocrtypes.ImageRef{{Index: 0}, {Index: 1}},
		},
	}
}

func TestBuild_SortsByIndexAndDerivesStatus(t *testing.T) {
	e := NewEmitter(newRecordingRedis(), "ocrworker")
	results := []ocrtypes.ResultRecord{
		{Index: 1, Meta: ocrtypes.ResultMeta{IsValid: false}},
		{Index: 0, Meta: ocrtypes.ResultMeta{IsValid: true}},
	}
	completion := e.Build(sampleInbound(), results, nil)

	require.Len(t, completion.Payload.Results, 2)
	assert.Equal(t, 0, completion.Payload.Results[0].Index)
	assert.Equal(t, 1, completion.Payload.Results[1].Index)
	assert.Equal(t, ocrtypes.StatusSuccess, completion.Payload.Status)
	assert.Equal(t, "wf-1", completion.WorkflowID)
	assert.Equal(t, "job-1", *completion.Trace.ParentJobID)
}

func TestBuild_AllInvalidIsFailed(t *testing.T) {
	e := NewEmitter(newRecordingRedis(), "ocrworker")
	results := []ocrtypes.ResultRecord{{Index: 0, Meta: ocrtypes.ResultMeta{IsValid: false}}}
	completion := e.Build(sampleInbound(), results, &ocrtypes.ErrorInfo{Code: "ocr_no_valid_output", Message: "no valid tier"})
	assert.Equal(t, ocrtypes.StatusFailed, completion.Payload.Status)
	assert.Equal(t, "ocr_no_valid_output", completion.Payload.Error.Code)
}

func TestEmit_DefaultQueuePushesFront(t *testing.T) {
	client := newRecordingRedis()
	e := NewEmitter(client, "ocrworker")
	completion := e.Build(sampleInbound(), nil, &ocrtypes.ErrorInfo{Code: "internal_error"})

	ok := e.Emit(t.Context(), completion)
	require.True(t, ok)
	require.Len(t, client.lpushed["q.out"], 1)

	var decoded ocrtypes.CompletionEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.lpushed["q.out"][0]), &decoded))
	assert.Equal(t, completion.JobID, decoded.JobID)
}

func TestEmit_JarvisQueueUsesFunctionWrapper(t *testing.T) {
	client := newRecordingRedis()
	e := NewEmitter(client, "ocrworker")
	inbound := sampleInbound()
	inbound.ReplyTo = jarvisRecipesQueue
	completion := e.Build(inbound, nil, &ocrtypes.ErrorInfo{Code: "internal_error"})

	ok := e.Emit(t.Context(), completion)
	require.True(t, ok)
	require.Len(t, client.lpushed[jarvisRecipesQueue], 1)

	var wrapped jarvisEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.lpushed[jarvisRecipesQueue][0]), &wrapped))
	assert.Equal(t, jarvisFunctionName, wrapped.FunctionName)
	assert.Equal(t, completion.JobID, wrapped.JobID)
	assert.Equal(t, int(jarvisTimeout.Seconds()), wrapped.TimeoutSec)
}

func TestEmit_NoReplyToLogsAndReturnsFalse(t *testing.T) {
	client := newRecordingRedis()
	e := NewEmitter(client, "ocrworker")
	completion := e.Build(ocrtypes.JobEnvelope{JobID: "job-2"}, nil, nil)
	assert.False(t, e.Emit(t.Context(), completion))
}

func TestRequeue_IncrementsAttemptOnly(t *testing.T) {
	client := newRecordingRedis()
	e := NewEmitter(client, "ocrworker")
	inbound := sampleInbound()

	require.NoError(t, e.Requeue(t.Context(), "q.in", inbound))
	require.Len(t, client.rpushed["q.in"], 1)

	var retried ocrtypes.JobEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.rpushed["q.in"][0]), &retried))
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, inbound.JobID, retried.JobID)
}
