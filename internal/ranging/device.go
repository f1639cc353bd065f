// Package ranging 提供双 ToF 测距：上电地址分配与非阻塞轮询
package ranging

import "errors"

// DefaultAddress ToF 传感器上电后的默认 I2C 地址（7 位）
const DefaultAddress uint16 = 0x29

// MaxTargets 单次测量最多返回的目标数
const MaxTargets = 4

var (
	ErrSensorNotFound = errors.New("ranging: sensor not found")
	ErrRangerInit     = errors.New("ranging: sensor initialization failed")
	ErrAddressPlan    = errors.New("ranging: invalid address plan")
	ErrBootTimeout    = errors.New("ranging: sensor did not boot")
)

// RangeStatus 单个目标的测距状态
type RangeStatus uint8

const (
	StatusRangeValid         RangeStatus = 0
	StatusSigmaFail          RangeStatus = 1
	StatusSignalFail         RangeStatus = 2
	StatusMinRangeClipped    RangeStatus = 3
	StatusOutOfBounds        RangeStatus = 4
	StatusHardwareFail       RangeStatus = 5
	StatusNoWrapCheckFail    RangeStatus = 6
	StatusWrapTargetFail     RangeStatus = 7
	StatusProcessingFail     RangeStatus = 8
	StatusXtalkSignalFail    RangeStatus = 9
	StatusSynchronisationInt RangeStatus = 10
	StatusMergedPulse        RangeStatus = 11
	StatusLackOfSignal       RangeStatus = 12
	StatusMinRangeFail       RangeStatus = 13
	StatusRangeInvalid       RangeStatus = 14
	StatusNone               RangeStatus = 255
)

// Usable 只有有效测距与最小距离截断两种状态参与目标选择
func (s RangeStatus) Usable() bool {
	return s == StatusRangeValid || s == StatusMinRangeClipped
}

// Target 单个目标返回
type Target struct {
	DistanceMM uint16
	Status     RangeStatus
}

// Device ToF 硬件抽象
//
// DataReady/Targets/ClearInterrupt 每次只做一次总线事务，不等待。
type Device interface {
	Init() error
	StartRanging() error
	DataReady() (bool, error)
	// Targets 把本次测量的目标写入 dst，返回写入数量
	Targets(dst []Target) (int, error)
	ClearInterrupt() error
}

// closest 返回可用目标中距离最近的一个
func closest(targets []Target) (uint16, bool) {
	var (
		best  uint16
		found bool
	)
	for _, t := range targets {
		if !t.Status.Usable() {
			continue
		}
		if !found || t.DistanceMM < best {
			best = t.DistanceMM
			found = true
		}
	}
	return best, found
}
