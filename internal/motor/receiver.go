package motor

import (
	"context"
	"fmt"

	"go.einride.tech/can"
	"go.uber.org/zap"
)

// FrameReceiver CAN 接收端（socketcan.Receiver 满足该接口）
type FrameReceiver interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

// FrameHandler 反馈帧处理方
type FrameHandler interface {
	HandleFrame(f can.Frame) bool
}

// Listen 持续接收反馈帧并分发给各轴，直到接收端关闭或 ctx 取消
//
// Receive 阻塞，取消时需要由调用方关闭底层连接。
func Listen(ctx context.Context, rx FrameReceiver, logger *zap.Logger, handlers ...FrameHandler) error {
	var unknown uint64
	for rx.Receive() {
		if ctx.Err() != nil {
			return nil
		}
		f := rx.Frame()
		handled := false
		for _, h := range handlers {
			if h.HandleFrame(f) {
				handled = true
				break
			}
		}
		if !handled {
			unknown++
			if unknown == 1 {
				logger.Debug("Ignoring unrecognised CAN frame", zap.String("frame", f.String()))
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := rx.Err(); err != nil {
		return fmt.Errorf("failed to receive CAN frame: %w", err)
	}
	return nil
}
