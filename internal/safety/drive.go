// Package safety 提供双电机协调与紧急停机互锁
package safety

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Actuator 单个驱动电机
type Actuator interface {
	SetVelocity(ctx context.Context, rpm float64) error
	Stop(ctx context.Context) error
	Velocity() float64
	Position() float64
	Ready() bool
}

// StatusRequester 需要主动轮询反馈的电机
type StatusRequester interface {
	RequestStatus(ctx context.Context) error
}

// DriveCoordinator 左右电机协调器
type DriveCoordinator struct {
	left   Actuator
	right  Actuator
	logger *zap.Logger
}

// NewDriveCoordinator 创建电机协调器
func NewDriveCoordinator(left, right Actuator, logger *zap.Logger) *DriveCoordinator {
	return &DriveCoordinator{
		left:   left,
		right:  right,
		logger: logger,
	}
}

// SetSpeeds 设置左右转速（RPM），两侧都会尝试发送
func (d *DriveCoordinator) SetSpeeds(ctx context.Context, leftRPM, rightRPM float64) error {
	var err error
	if d.left != nil {
		err = multierr.Append(err, d.left.SetVelocity(ctx, leftRPM))
	}
	if d.right != nil {
		err = multierr.Append(err, d.right.SetVelocity(ctx, rightRPM))
	}
	return err
}

// Stop 两侧同时停机，不管单侧状态如何
func (d *DriveCoordinator) Stop(ctx context.Context) error {
	var err error
	if d.left != nil {
		err = multierr.Append(err, d.left.Stop(ctx))
	}
	if d.right != nil {
		err = multierr.Append(err, d.right.Stop(ctx))
	}
	return err
}

// BothReady 两侧都就绪才算就绪
func (d *DriveCoordinator) BothReady() bool {
	if d.left == nil || d.right == nil {
		return false
	}
	return d.left.Ready() && d.right.Ready()
}

// Speeds 返回左右反馈转速，缺失一侧返回 0
func (d *DriveCoordinator) Speeds() (left, right float64) {
	if d.left != nil {
		left = d.left.Velocity()
	}
	if d.right != nil {
		right = d.right.Velocity()
	}
	return left, right
}

// Positions 返回左右位置（圈）
func (d *DriveCoordinator) Positions() (left, right float64) {
	if d.left != nil {
		left = d.left.Position()
	}
	if d.right != nil {
		right = d.right.Position()
	}
	return left, right
}

// RequestStatus 向支持轮询的电机请求反馈
func (d *DriveCoordinator) RequestStatus(ctx context.Context) error {
	var err error
	for _, a := range []Actuator{d.left, d.right} {
		if r, ok := a.(StatusRequester); ok {
			err = multierr.Append(err, r.RequestStatus(ctx))
		}
	}
	return err
}
