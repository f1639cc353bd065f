package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fungus-wine/calvin-instinctus/common/redis"
	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

// StreamSink 把事件追加到 Redis Stream，并缓存最新系统状态
type StreamSink struct {
	client    *redis.Client
	stream    string
	maxLen    int64
	statusKey string
	statusTTL time.Duration
}

// NewStreamSink 创建 Redis 输出端
func NewStreamSink(client *redis.Client, stream string, maxLen int64, statusKey string, statusTTL time.Duration) *StreamSink {
	return &StreamSink{
		client:    client,
		stream:    stream,
		maxLen:    maxLen,
		statusKey: statusKey,
		statusTTL: statusTTL,
	}
}

func (s *StreamSink) Name() string {
	return "redis"
}

func (s *StreamSink) Handle(ctx context.Context, env Envelope) error {
	_, err := redis.PublishToStream(ctx, s.client, s.stream, s.maxLen, map[string]interface{}{
		"seq":         env.Seq,
		"kind":        env.Kind,
		"payload":     env.Payload,
		"faults":      env.Faults,
		"received_at": env.ReceivedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", s.stream, err)
	}

	if env.EventKind() == models.KindSystemStatus && s.statusKey != "" {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		if err := s.client.Set(ctx, s.statusKey, data, s.statusTTL).Err(); err != nil {
			return fmt.Errorf("failed to cache status: %w", err)
		}
	}
	return nil
}
