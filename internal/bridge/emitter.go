// Package bridge 把观察者通知转换为出站事件记录
//
// 所有格式化都写入固定大小的缓冲区，控制周期内不分配内存。
package bridge

import (
	"strconv"

	"github.com/fungus-wine/calvin-instinctus/internal/eventchannel"
	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
)

// Emitter 向出站通道写入事件；通道满时丢弃并置位 FaultChannelSaturated
//
// 只能在单一生产者上下文中使用。
type Emitter struct {
	out    eventchannel.Producer
	faults *models.FaultFlags
	logger *zap.Logger
	buf    [models.PayloadSize]byte
}

// NewEmitter 创建事件发送器
func NewEmitter(out eventchannel.Producer, faults *models.FaultFlags, logger *zap.Logger) *Emitter {
	return &Emitter{
		out:    out,
		faults: faults,
		logger: logger,
	}
}

// Emit 发送字节负载，超长时按字符边界截断
func (e *Emitter) Emit(kind models.EventKind, payload []byte) bool {
	var rec models.EventRecord
	rec.Kind = kind
	rec.SetBytes(payload)
	if e.out.TryPush(rec) {
		return true
	}
	// 只在一次饱和的开始记录日志；由健康检查在恢复后清位
	if !e.faults.Set(models.FaultChannelSaturated) {
		e.logger.Warn("Outbound event channel full, dropping newest events",
			zap.Stringer("kind", kind),
		)
	}
	return false
}

// EmitText 发送文本负载
func (e *Emitter) EmitText(kind models.EventKind, text string) bool {
	return e.Emit(kind, append(e.buf[:0], text...))
}

// EmitFloat 发送单个保留 prec 位小数的数值
func (e *Emitter) EmitFloat(kind models.EventKind, v float64, prec int) bool {
	return e.Emit(kind, strconv.AppendFloat(e.buf[:0], v, 'f', prec, 64))
}

// EmitCSV 发送逗号分隔的数值列表
func (e *Emitter) EmitCSV(kind models.EventKind, prec int, values ...float64) bool {
	return e.Emit(kind, AppendCSV(e.buf[:0], prec, values...))
}

// Scratch 返回可复用的格式化缓冲区（长度为零）
func (e *Emitter) Scratch() []byte {
	return e.buf[:0]
}

// AppendCSV 以固定小数位追加逗号分隔的数值
func AppendCSV(dst []byte, prec int, values ...float64) []byte {
	for i, v := range values {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendFloat(dst, v, 'f', prec, 64)
	}
	return dst
}
