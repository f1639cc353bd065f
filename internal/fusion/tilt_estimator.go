// Package fusion 提供互补滤波倾角估计
//
// 坐标系（X 向前）：
//   - X：前后方向（平衡主轴）
//   - Y：左右方向（侧向轴，陀螺仪绕该轴的角速度即俯仰角速度）
//   - Z：上下方向（重力参考）
//
// 倾角为正表示前倾，为负表示后仰。
package fusion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultAlpha                 = 0.98 // 98% 信任陀螺仪积分，2% 信任加速度计
	DefaultChangeThresholdDeg    = 1.0
	DefaultEmergencyThresholdDeg = 45.0

	// MinDelta 时间戳回退或跳变时使用的积分步长
	MinDelta = time.Millisecond
	// MaxDelta 超过该间隔视为计时器回绕
	MaxDelta = 500 * time.Millisecond

	maxTiltDeg = 90.0
	radToDeg   = 180.0 / math.Pi
)

// ErrIMUInit IMU 初始化失败
var ErrIMUInit = errors.New("fusion: imu initialization failed")

// Source IMU 硬件抽象
type Source interface {
	Initialize() error
	// Read 读取一个样本；读取失败返回 false
	Read() (models.TiltSample, bool)
}

// Notifier 倾角事件接收方（通常是 observer.Registry）
type Notifier interface {
	NotifyTiltChange(angle float64)
	NotifyEmergency(angle float64)
}

// Options 滤波参数
type Options struct {
	Alpha                 float64
	ChangeThresholdDeg    float64
	EmergencyThresholdDeg float64
}

// DefaultOptions 返回默认滤波参数
func DefaultOptions() Options {
	return Options{
		Alpha:                 DefaultAlpha,
		ChangeThresholdDeg:    DefaultChangeThresholdDeg,
		EmergencyThresholdDeg: DefaultEmergencyThresholdDeg,
	}
}

// TiltEstimator 互补滤波倾角估计器
//
// 只由实时控制上下文调用；State 返回值拷贝。
type TiltEstimator struct {
	source   Source
	notifier Notifier
	opts     Options
	faults   *models.FaultFlags
	logger   *zap.Logger

	state   models.TiltState
	last    models.TiltSample
	started bool
	active  bool
}

// NewTiltEstimator 创建倾角估计器
func NewTiltEstimator(source Source, notifier Notifier, opts Options, faults *models.FaultFlags, logger *zap.Logger) *TiltEstimator {
	return &TiltEstimator{
		source:   source,
		notifier: notifier,
		opts:     opts,
		faults:   faults,
		logger:   logger,
	}
}

// Initialize 初始化 IMU；失败时估计器保持停用，Step 不再读取传感器
func (e *TiltEstimator) Initialize() error {
	if e.source == nil {
		e.faults.Set(models.FaultIMUInactive)
		return ErrIMUInit
	}
	if err := e.source.Initialize(); err != nil {
		if !e.faults.Set(models.FaultIMUInactive) {
			e.logger.Error("IMU initialization failed, tilt estimation disabled", zap.Error(err))
		}
		return fmt.Errorf("%w: %v", ErrIMUInit, err)
	}
	e.active = true
	e.logger.Info("Tilt estimator initialized",
		zap.Float64("alpha", e.opts.Alpha),
		zap.Float64("change_threshold_deg", e.opts.ChangeThresholdDeg),
		zap.Float64("emergency_threshold_deg", e.opts.EmergencyThresholdDeg),
	)
	return nil
}

// Active IMU 是否可用
func (e *TiltEstimator) Active() bool {
	return e.active
}

// Step 读取一个样本并更新；读取失败时跳过整个周期，状态保持不变
func (e *TiltEstimator) Step() (models.TiltState, bool) {
	if !e.active {
		return e.state, false
	}
	sample, ok := e.source.Read()
	if !ok {
		return e.state, false
	}
	return e.Update(sample), true
}

// Update 用一个样本推进滤波器并按阈值通知观察者
func (e *TiltEstimator) Update(sample models.TiltSample) models.TiltState {
	dt := e.delta(sample.Timestamp)

	accelTilt := math.Atan2(sample.AccelX, sample.AccelZ) * radToDeg
	previous := e.state.Angle
	gyroTilt := previous + sample.GyroY*radToDeg*dt.Seconds()
	filtered := clampTilt(e.opts.Alpha*gyroTilt + (1-e.opts.Alpha)*accelTilt)

	e.state = models.TiltState{
		Angle:         filtered,
		PreviousAngle: previous,
		UpdatedAt:     sample.Timestamp,
	}
	e.last = sample
	e.started = true

	if math.Abs(filtered-previous) > e.opts.ChangeThresholdDeg {
		e.notifier.NotifyTiltChange(filtered)
	}
	if math.Abs(filtered) > e.opts.EmergencyThresholdDeg {
		e.notifier.NotifyEmergency(filtered)
	}

	return e.state
}

// State 返回当前状态快照
func (e *TiltEstimator) State() models.TiltState {
	return e.state
}

// LastSample 返回最近一次成功读取的原始样本
func (e *TiltEstimator) LastSample() models.TiltSample {
	return e.last
}

func (e *TiltEstimator) delta(ts time.Duration) time.Duration {
	if !e.started {
		return MinDelta
	}
	dt := ts - e.state.UpdatedAt
	if dt <= 0 || dt > MaxDelta {
		return MinDelta
	}
	return dt
}

func clampTilt(angle float64) float64 {
	if angle > maxTiltDeg {
		return maxTiltDeg
	}
	if angle < -maxTiltDeg {
		return -maxTiltDeg
	}
	return angle
}
