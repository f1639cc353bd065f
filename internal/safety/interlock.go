package safety

import (
	"context"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
)

// State 互锁状态
type State uint8

const (
	StateArmed State = iota
	StateStopped
)

func (s State) String() string {
	if s == StateStopped {
		return "stopped"
	}
	return "armed"
}

// Stopper 能够停下全部电机的对象（DriveCoordinator）
type Stopper interface {
	Stop(ctx context.Context) error
}

// BalanceController 平衡控制器
type BalanceController interface {
	Balance(angle float64)
}

// HoldController 不发出任何电机指令的占位控制器；平衡 PID 参数尚未确定
type HoldController struct{}

func (HoldController) Balance(float64) {}

// TransitionFunc 状态切换回调，在控制循环上下文中同步调用
type TransitionFunc func(from, to State, reason string)

// Interlock 紧急停机互锁
//
// 作为倾角观察者注册：紧急通知直接调用电机停机，不经过事件通道。
// 只在控制循环上下文中使用。
type Interlock struct {
	drive      Stopper
	controller BalanceController
	faults     *models.FaultFlags
	logger     *zap.Logger

	state        State
	onTransition TransitionFunc
	stopFailing  bool
	stops        uint64
}

// NewInterlock 创建互锁，初始为 Armed
func NewInterlock(drive Stopper, controller BalanceController, faults *models.FaultFlags, logger *zap.Logger) *Interlock {
	if controller == nil {
		controller = HoldController{}
	}
	return &Interlock{
		drive:      drive,
		controller: controller,
		faults:     faults,
		logger:     logger,
		state:      StateArmed,
	}
}

// OnTransition 设置状态切换回调（只在初始化阶段调用）
func (i *Interlock) OnTransition(fn TransitionFunc) {
	i.onTransition = fn
}

// State 当前状态
func (i *Interlock) State() State {
	return i.state
}

// Stops 已发出的停机指令次数
func (i *Interlock) Stops() uint64 {
	return i.stops
}

// OnTiltChange Armed 时交给平衡控制器；Stopped 时不发出任何电机指令
func (i *Interlock) OnTiltChange(angle float64) {
	if i.state != StateArmed {
		return
	}
	i.controller.Balance(angle)
}

// OnEmergency 停下两侧电机并锁定；已锁定时重复发送停机
func (i *Interlock) OnEmergency(angle float64) {
	i.stop()
	if i.state == StateArmed {
		i.logger.Error("Emergency tilt, motors stopped and interlock latched",
			zap.Float64("angle", angle),
		)
		i.transition(StateStopped, "tilt")
	}
}

// Trip 外部紧急停机指令
func (i *Interlock) Trip(reason string) {
	i.stop()
	if i.state == StateArmed {
		i.logger.Warn("Interlock tripped", zap.String("reason", reason))
		i.transition(StateStopped, reason)
	}
}

// Reset 解除锁定；已是 Armed 时返回 false
func (i *Interlock) Reset() bool {
	if i.state != StateStopped {
		return false
	}
	i.logger.Info("Interlock reset, re-armed")
	i.transition(StateArmed, "reset")
	return true
}

func (i *Interlock) stop() {
	i.stops++
	// 停机不受上层取消影响
	err := i.drive.Stop(context.Background())
	switch {
	case err != nil && !i.stopFailing:
		i.stopFailing = true
		i.logger.Error("Failed to stop motors", zap.Error(err))
	case err == nil && i.stopFailing:
		i.stopFailing = false
		i.logger.Info("Motor stop commands delivered again")
	}
}

func (i *Interlock) transition(to State, reason string) {
	from := i.state
	i.state = to
	if to == StateStopped {
		i.faults.Set(models.FaultInterlockStopped)
	} else {
		i.faults.Clear(models.FaultInterlockStopped)
	}
	if i.onTransition != nil {
		i.onTransition(from, to, reason)
	}
}
