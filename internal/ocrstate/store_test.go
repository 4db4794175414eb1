package ocrstate

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
)

// fakeRedis is a minimal in-memory stand-in for redis.ClientInterface,
// used because the real client requires a live connection.
type fakeRedis struct {
	data map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) SetWithExpiration(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.data[key] = value.(string)
	return nil
}

func (f *fakeRedis) GetString(_ context.Context, key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) MGet(_ context.Context, keys ...string) ([]interface{}, error) { return nil, nil }
func (f *fakeRedis) MGetStrings(_ context.Context, keys ...string) ([]string, error) {
	return nil, nil
}
func (f *fakeRedis) GeoAdd(context.Context, string, float64, float64, string) error { return nil }
func (f *fakeRedis) GeoRadius(context.Context, string, float64, float64, float64, int) ([]string, error) {
	return nil, nil
}
func (f *fakeRedis) GeoRemove(context.Context, string, string) error { return nil }
func (f *fakeRedis) Expire(context.Context, string, time.Duration) error { return nil }
func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) error {
	return nil
}
func (f *fakeRedis) RPush(_ context.Context, key string, values ...interface{}) error {
	return nil
}
func (f *fakeRedis) BRPop(context.Context, time.Duration, ...string) (string, string, error) {
	return "", "", errors.New("not implemented")
}

func TestRedisStore_SaveGetDelete(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisStore(client)

	state := ocrtypes.PendingState{ValidationJobID: "vjob-1", ImageIndex: 0, TierName: "tesseract"}
	require.NoError(t, store.Save(t.Context(), "vjob-1", state, time.Minute))

	got, ok, err := store.Get(t.Context(), "vjob-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tesseract", got.TierName)

	require.NoError(t, store.Delete(t.Context(), "vjob-1"))
	_, ok, err = store.Get(t.Context(), "vjob-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_GetMissingIsNotError(t *testing.T) {
	store := NewRedisStore(newFakeRedis())
	_, ok, err := store.Get(t.Context(), "never-set")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_DeserializeFailureIsMissing(t *testing.T) {
	client := newFakeRedis()
	client.data[stateKey("corrupt")] = "not json"
	store := NewRedisStore(client)

	_, ok, err := store.Get(t.Context(), "corrupt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_KeyNamespace(t *testing.T) {
	assert.Equal(t, "ocr:pending_validation:abc", stateKey("abc"))
}

func TestIDFromKey(t *testing.T) {
	id, ok := IDFromKey("ocr:pending_validation:abc")
	require.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = IDFromKey("some:other:key")
	assert.False(t, ok)
}
