// Package relay 通信侧中继循环：消费出站事件分发给各个输出端，并把心跳和操作员命令写入入站通道
package relay

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
)

// Envelope 中继后的事件
type Envelope struct {
	Seq        uint64    `json:"seq"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Faults     string    `json:"faults"`
	ReceivedAt time.Time `json:"received_at"`

	kind models.EventKind
}

// EventKind 原始事件类型
func (e Envelope) EventKind() models.EventKind {
	return e.kind
}

// NewEnvelope 由事件记录构造
func NewEnvelope(seq uint64, rec models.EventRecord, faults models.Fault, receivedAt time.Time) Envelope {
	return Envelope{
		Seq:        seq,
		Kind:       rec.Kind.String(),
		Payload:    rec.Text(),
		Faults:     faults.Names(),
		ReceivedAt: receivedAt,
		kind:       rec.Kind,
	}
}

// Sink 事件输出端
type Sink interface {
	Name() string
	Handle(ctx context.Context, env Envelope) error
}

// LogSink 把每个事件渲染为一行日志（显示屏的替身）
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志输出端
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Handle(_ context.Context, env Envelope) error {
	switch env.EventKind() {
	case models.KindEmergencyStop, models.KindCollisionWarning, models.KindSafetyAlert:
		s.logger.Warn(Render(env), zap.Uint64("seq", env.Seq))
	case models.KindBalanceData, models.KindRangingData:
		s.logger.Debug(Render(env), zap.Uint64("seq", env.Seq))
	default:
		s.logger.Info(Render(env), zap.Uint64("seq", env.Seq))
	}
	return nil
}

// Render 渲染为一行可读文本
func Render(env Envelope) string {
	switch env.EventKind() {
	case models.KindTiltChange:
		return "tilt " + env.Payload + "°"
	case models.KindEmergencyStop:
		return "EMERGENCY STOP at " + env.Payload + "°"
	case models.KindProximityWarning, models.KindCollisionWarning, models.KindRangingData:
		sensor, distance, ok := strings.Cut(env.Payload, ",")
		if !ok {
			break
		}
		return env.Kind + " " + sensor + " " + distance + "mm"
	case models.KindSystemStatus:
		return "status " + decodeFaults(env.Payload)
	}
	return env.Kind + " " + env.Payload
}

// decodeFaults 把 "faults=0x.." 字段替换为故障名
func decodeFaults(payload string) string {
	head, hex, ok := strings.Cut(payload, "faults=0x")
	if !ok {
		return payload
	}
	bits, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return payload
	}
	return head + "faults=" + models.Fault(bits).Names()
}
