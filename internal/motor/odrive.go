package motor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.einride.tech/can"
	"go.uber.org/zap"
)

const (
	// StatusTimeout 超过该时间没有编码器反馈即视为未就绪
	StatusTimeout = 100 * time.Millisecond
	// MaxReasonableRPM 反馈转速超出该值视为异常
	MaxReasonableRPM = 10000
)

var ErrInvalidNodeID = errors.New("motor: node id out of range")

// FrameSender CAN 发送端（socketcan.Transmitter 满足该接口）
type FrameSender interface {
	TransmitFrame(ctx context.Context, frame can.Frame) error
}

// ODrive 单个 ODrive 轴
//
// 指令在控制循环中发出；反馈由接收协程通过 HandleFrame 写入，读写之间用互斥锁保护。
type ODrive struct {
	nodeID uint8
	tx     FrameSender
	clock  func() time.Duration
	logger *zap.Logger

	mu          sync.Mutex
	velocityRPM float64
	positionRev float64
	lastStatus  time.Duration
	haveStatus  bool
	commanded   float64
}

// NewODrive 创建 ODrive 轴，clock 返回单调时间
func NewODrive(nodeID uint8, tx FrameSender, clock func() time.Duration, logger *zap.Logger) (*ODrive, error) {
	if nodeID > MaxNodeID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNodeID, nodeID)
	}
	return &ODrive{
		nodeID: nodeID,
		tx:     tx,
		clock:  clock,
		logger: logger.With(zap.Uint8("node_id", nodeID)),
	}, nil
}

// NodeID 节点号
func (o *ODrive) NodeID() uint8 {
	return o.nodeID
}

// Initialize 发送首个状态请求
func (o *ODrive) Initialize(ctx context.Context) error {
	if err := o.RequestStatus(ctx); err != nil {
		return fmt.Errorf("failed to initialize odrive %d: %w", o.nodeID, err)
	}
	o.logger.Info("ODrive initialized")
	return nil
}

// SetVelocity 设置目标转速（RPM）
func (o *ODrive) SetVelocity(ctx context.Context, rpm float64) error {
	o.mu.Lock()
	o.commanded = rpm
	o.mu.Unlock()
	return o.tx.TransmitFrame(ctx, VelocityFrame(o.nodeID, float32(RPMToRadPerSec(rpm))))
}

// Stop 速度归零
func (o *ODrive) Stop(ctx context.Context) error {
	return o.SetVelocity(ctx, 0)
}

// RequestStatus 请求编码器估计值
func (o *ODrive) RequestStatus(ctx context.Context) error {
	return o.tx.TransmitFrame(ctx, EncoderRequestFrame(o.nodeID))
}

// HandleFrame 处理一帧反馈，属于本轴返回 true
func (o *ODrive) HandleFrame(f can.Frame) bool {
	est, ok := ParseEncoderEstimates(o.nodeID, f)
	if !ok {
		return false
	}
	now := o.clock()
	o.mu.Lock()
	o.positionRev = float64(est.PositionRev)
	o.velocityRPM = RadPerSecToRPM(float64(est.VelocityRadPerS))
	o.lastStatus = now
	o.haveStatus = true
	o.mu.Unlock()
	return true
}

// Velocity 最近反馈转速（RPM）
func (o *ODrive) Velocity() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.velocityRPM
}

// Position 最近反馈位置（圈）
func (o *ODrive) Position() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.positionRev
}

// Commanded 最近一次指令转速
func (o *ODrive) Commanded() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.commanded
}

// Ready 反馈足够新且转速合理
func (o *ODrive) Ready() bool {
	now := o.clock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.haveStatus || now-o.lastStatus >= StatusTimeout {
		return false
	}
	return math.Abs(o.velocityRPM) < MaxReasonableRPM
}
