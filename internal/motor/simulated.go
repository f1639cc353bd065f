package motor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.einride.tech/can"
)

// SimulatedBus 台架模拟 CAN 总线：按指令速度积分位置，并应答编码器请求
type SimulatedBus struct {
	clock func() time.Duration

	mu     sync.Mutex
	axes   map[uint8]*simAxis
	sent   []can.Frame
	frames chan can.Frame
	closed bool
	frame  can.Frame
}

type simAxis struct {
	velRadPerS float32
	posRev     float64
	updated    time.Duration
}

// maxSentFrames Sent 保留的最近帧数
const maxSentFrames = 256

// NewSimulatedBus 创建模拟总线
func NewSimulatedBus(clock func() time.Duration) *SimulatedBus {
	return &SimulatedBus{
		clock:  clock,
		axes:   make(map[uint8]*simAxis),
		frames: make(chan can.Frame, 16),
	}
}

func (b *SimulatedBus) axis(nodeID uint8, now time.Duration) *simAxis {
	a, ok := b.axes[nodeID]
	if !ok {
		a = &simAxis{updated: now}
		b.axes[nodeID] = a
	}
	a.posRev += float64(a.velRadPerS) / (2 * math.Pi) * (now - a.updated).Seconds()
	a.updated = now
	return a
}

func (b *SimulatedBus) TransmitFrame(ctx context.Context, f can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := b.clock()
	nodeID := uint8(f.ID >> 5)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, f)
	if len(b.sent) > maxSentFrames {
		b.sent = append(b.sent[:0], b.sent[len(b.sent)-maxSentFrames:]...)
	}
	a := b.axis(nodeID, now)

	switch f.ID & 0x1F {
	case CmdSetInputVel:
		a.velRadPerS = math.Float32frombits(uint32(f.Data.UnsignedBitsLittleEndian(0, 32)))
	case CmdGetEncoderEstimates:
		if b.closed {
			return nil
		}
		resp := EncoderEstimatesFrame(nodeID, EncoderEstimates{
			PositionRev:     float32(a.posRev),
			VelocityRadPerS: a.velRadPerS,
		})
		select {
		case b.frames <- resp:
		default:
		}
	}
	return nil
}

func (b *SimulatedBus) Receive() bool {
	f, ok := <-b.frames
	if !ok {
		return false
	}
	b.frame = f
	return true
}

func (b *SimulatedBus) Frame() can.Frame {
	return b.frame
}

func (b *SimulatedBus) Err() error {
	return nil
}

// Close 结束 Receive
func (b *SimulatedBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.frames)
	}
	return nil
}

// Sent 返回已发送帧的拷贝
func (b *SimulatedBus) Sent() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame(nil), b.sent...)
}
