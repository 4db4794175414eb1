// Package ocrqueue implements the dequeue loop: a long-lived task that
// blocking-pops job envelopes off the job queue and hands each one to
// the orchestrator. Multiple loops may run concurrently against the
// same queue; they are mutually independent.
package ocrqueue

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
	"github.com/ocrplatform/extraction-worker/pkg/logger"
	"github.com/ocrplatform/extraction-worker/pkg/redis"
)

// DefaultPollTimeout is the BRPOP wait applied when Config omits one.
const DefaultPollTimeout = 5 * time.Second

// Handler processes one dequeued job envelope. It is expected to do
// its own error handling and never to return to the loop with a
// panic; the loop does not retry a handler call.
type Handler func(ctx context.Context, job ocrtypes.JobEnvelope)

// Config carries the queue name and poll timeout.
type Config struct {
	QueueName   string
	PollTimeout time.Duration
}

// Loop is one dequeue worker: it owns a Redis client and a queue name,
// and drives Handler for every envelope it pops.
type Loop struct {
	client  redis.ClientInterface
	handler Handler
	cfg     Config
}

// NewLoop builds a Loop bound to a Redis client and a job handler.
func NewLoop(client redis.ClientInterface, handler Handler, cfg Config) *Loop {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Loop{client: client, handler: handler, cfg: cfg}
}

// Run blocks, popping and dispatching envelopes until ctx is
// cancelled. It is meant to be started as its own goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := l.client.BRPop(ctx, l.cfg.PollTimeout, l.cfg.QueueName)
		if err != nil {
			if redis.IsNoResult(err) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Get().Error("dequeue loop: BRPOP failed",
				zap.String("queue", l.cfg.QueueName),
				zap.Error(err),
			)
			continue
		}

		var job ocrtypes.JobEnvelope
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			logger.Get().Error("dequeue loop: dropping undecodable envelope",
				zap.String("queue", l.cfg.QueueName),
				zap.Error(err),
			)
			continue
		}

		l.handler(ctx, job)
	}
}
