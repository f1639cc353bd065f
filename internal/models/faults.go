package models

import (
	"strings"
	"sync/atomic"
)

// Fault 故障位
type Fault uint32

const (
	FaultIMUInactive Fault = 1 << iota
	FaultRangerFrontInactive
	FaultRangerRearInactive
	FaultChannelSaturated
	FaultPeerSilent // 控制侧收不到中继心跳
	FaultInterlockStopped
	FaultMotorNotReady
	FaultControlSilent // 中继侧收不到控制心跳
)

var faultNames = []struct {
	fault Fault
	name  string
}{
	{FaultIMUInactive, "imu_inactive"},
	{FaultRangerFrontInactive, "ranger_front_inactive"},
	{FaultRangerRearInactive, "ranger_rear_inactive"},
	{FaultChannelSaturated, "channel_saturated"},
	{FaultPeerSilent, "peer_silent"},
	{FaultInterlockStopped, "interlock_stopped"},
	{FaultMotorNotReady, "motor_not_ready"},
	{FaultControlSilent, "control_silent"},
}

// RangerInactiveFault 返回指定传感器对应的故障位
func RangerInactiveFault(id SensorID) Fault {
	if id == SensorRear {
		return FaultRangerRearInactive
	}
	return FaultRangerFrontInactive
}

// FaultFlags 可被两个执行上下文并发读取的故障位集合
type FaultFlags struct {
	bits atomic.Uint32
}

// Set 置位，返回该位之前是否已置位
func (f *FaultFlags) Set(fault Fault) bool {
	for {
		old := f.bits.Load()
		if old&uint32(fault) != 0 {
			return true
		}
		if f.bits.CompareAndSwap(old, old|uint32(fault)) {
			return false
		}
	}
}

// Clear 清位，返回该位之前是否已置位
func (f *FaultFlags) Clear(fault Fault) bool {
	for {
		old := f.bits.Load()
		if old&uint32(fault) == 0 {
			return false
		}
		if f.bits.CompareAndSwap(old, old&^uint32(fault)) {
			return true
		}
	}
}

// Has 判断是否置位
func (f *FaultFlags) Has(fault Fault) bool {
	return f.bits.Load()&uint32(fault) != 0
}

// Load 返回当前全部故障位
func (f *FaultFlags) Load() Fault {
	return Fault(f.bits.Load())
}

// Names 返回已置位故障的名称，以 "|" 连接；无故障返回 "ok"
func (f Fault) Names() string {
	if f == 0 {
		return "ok"
	}
	var parts []string
	for _, fn := range faultNames {
		if f&fn.fault != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
