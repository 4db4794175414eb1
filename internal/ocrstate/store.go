// Package ocrstate implements the validation state store: a
// namespaced, TTL-bounded mapping from validation_job_id to the
// PendingState persisted while an image's judge request is outstanding.
package ocrstate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
	"github.com/ocrplatform/extraction-worker/pkg/redis"
)

// keyPrefix is the fixed namespace shared across workers.
const keyPrefix = "ocr:pending_validation:"

// DefaultTTL is applied when a caller does not override it.
const DefaultTTL = 300 * time.Second

// Store is the pending-validation persistence contract.
type Store interface {
	Save(ctx context.Context, validationJobID string, state ocrtypes.PendingState, ttl time.Duration) error
	Get(ctx context.Context, validationJobID string) (ocrtypes.PendingState, bool, error)
	Delete(ctx context.Context, validationJobID string) error
}

// RedisStore is the production Store implementation, backed by the
// cluster's shared Redis instance.
type RedisStore struct {
	client redis.ClientInterface
}

// NewRedisStore wraps an already-connected Redis client.
func NewRedisStore(client redis.ClientInterface) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(validationJobID string) string {
	return keyPrefix + validationJobID
}

// IDFromKey extracts the validation_job_id from a fully-namespaced
// validation_state_key, as received from the callback payload's
// metadata. It reports false if key is not in this namespace.
func IDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, keyPrefix), true
}

// Save overwrites any existing entry and resets its TTL.
func (s *RedisStore) Save(ctx context.Context, validationJobID string, state ocrtypes.PendingState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.SetWithExpiration(ctx, stateKey(validationJobID), string(data), ttl)
}

// Get returns the stored state, or (zero, false, nil) if it is missing
// or expired. A deserialization failure is treated as missing.
func (s *RedisStore) Get(ctx context.Context, validationJobID string) (ocrtypes.PendingState, bool, error) {
	raw, err := s.client.GetString(ctx, stateKey(validationJobID))
	if err != nil {
		if redis.IsNoResult(err) {
			return ocrtypes.PendingState{}, false, nil
		}
		return ocrtypes.PendingState{}, false, err
	}

	var state ocrtypes.PendingState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return ocrtypes.PendingState{}, false, nil
	}
	return state, true, nil
}

// Delete is idempotent: deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, validationJobID string) error {
	return s.client.Delete(ctx, stateKey(validationJobID))
}
