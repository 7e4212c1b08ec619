// Package analytics provides fire-and-forget event sinks. Delivery failures
// are logged and never propagated to the emitting operation.
package analytics

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogSink writes events to the structured log. It is the fallback when no
// analytics transport is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed analytics sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{
		logger: logger.Named("analytics"),
	}
}

// Emit records the event in the log
func (s *LogSink) Emit(ctx context.Context, event string, params map[string]interface{}) {
	s.logger.Info("Analytics event",
		zap.String("event", event),
		zap.Any("params", params),
	)
}

// RedisSink appends events to a Redis stream for downstream consumers
type RedisSink struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisSink creates a Redis-stream-backed analytics sink
func NewRedisSink(client *redis.Client, stream string, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		client: client,
		stream: stream,
		logger: logger.Named("analytics"),
	}
}

// Emit appends the event to the stream. A failed append is logged and
// dropped; analytics never blocks or fails an operation.
func (s *RedisSink) Emit(ctx context.Context, event string, params map[string]interface{}) {
	values := map[string]interface{}{
		"event_id": uuid.NewString(),
		"event":    event,
	}
	for k, v := range params {
		values["param_"+k] = v
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}).Err(); err != nil {
		s.logger.Warn("Failed to deliver analytics event",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
