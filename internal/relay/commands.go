package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
)

var (
	ErrUnknownCommand = errors.New("relay: unknown command")
	ErrCommandBacklog = errors.New("relay: command backlog full")
)

// CommandQueue 操作员命令缓冲
//
// MQTT 回调在客户端自己的协程中执行；命令先进入这里，由中继循环统一写入入站通道，
// 保证入站通道只有一个生产者。
type CommandQueue struct {
	ch     chan models.EventRecord
	logger *zap.Logger
}

// NewCommandQueue 创建命令缓冲
func NewCommandQueue(size int, logger *zap.Logger) *CommandQueue {
	if size < 1 {
		size = 1
	}
	return &CommandQueue{
		ch:     make(chan models.EventRecord, size),
		logger: logger,
	}
}

// ParseCommand 解析命令文本："estop[:原因]" 或 "reset"
func ParseCommand(payload []byte) (models.EventRecord, error) {
	text := strings.TrimSpace(string(payload))
	name, arg, _ := strings.Cut(text, ":")
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "estop", "stop", "emergency_stop":
		reason := strings.TrimSpace(arg)
		if reason == "" {
			reason = "operator"
		}
		return models.NewEventRecord(models.KindEmergencyStop, reason), nil
	case "reset", "interlock_reset":
		return models.NewEventRecord(models.KindInterlockReset, ""), nil
	}
	return models.EventRecord{}, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
}

// HandleMessage MQTT 消息回调（签名与 common/mqtt.MessageHandler 一致），不阻塞
func (q *CommandQueue) HandleMessage(topic string, payload []byte) error {
	rec, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	select {
	case q.ch <- rec:
		q.logger.Info("Operator command queued",
			zap.String("topic", topic),
			zap.Stringer("kind", rec.Kind),
		)
		return nil
	default:
		return ErrCommandBacklog
	}
}

// next 非阻塞取出一个命令
func (q *CommandQueue) next() (models.EventRecord, bool) {
	select {
	case rec := <-q.ch:
		return rec, true
	default:
		return models.EventRecord{}, false
	}
}
