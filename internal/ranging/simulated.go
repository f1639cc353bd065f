package ranging

import (
	"math"
	"time"
)

// SimulatedDevice 台架模拟 ToF：障碍物按正弦来回移动，附带一个远处的无效回波
type SimulatedDevice struct {
	NearMM   float64
	FarMM    float64
	Period   time.Duration
	InitErr  error
	interval time.Duration

	clock func() time.Duration
	next  time.Duration
	ready bool
}

// NewSimulatedDevice 创建模拟设备，每 interval 产生一次测量
func NewSimulatedDevice(clock func() time.Duration, interval time.Duration) *SimulatedDevice {
	return &SimulatedDevice{
		NearMM:   80,
		FarMM:    1200,
		Period:   6 * time.Second,
		interval: interval,
		clock:    clock,
	}
}

func (d *SimulatedDevice) Init() error {
	return d.InitErr
}

func (d *SimulatedDevice) StartRanging() error {
	d.next = d.clock() + d.interval
	return nil
}

func (d *SimulatedDevice) DataReady() (bool, error) {
	if !d.ready && d.clock() >= d.next {
		d.ready = true
	}
	return d.ready, nil
}

func (d *SimulatedDevice) Targets(dst []Target) (int, error) {
	now := d.clock()
	phase := 2 * math.Pi * now.Seconds() / d.Period.Seconds()
	mid := (d.NearMM + d.FarMM) / 2
	amp := (d.FarMM - d.NearMM) / 2
	distance := mid + amp*math.Cos(phase)

	n := 0
	if len(dst) > n {
		dst[n] = Target{DistanceMM: uint16(distance), Status: StatusRangeValid}
		n++
	}
	if len(dst) > n {
		// 多径回波：比真实目标更近但信号不足，必须被过滤
		dst[n] = Target{DistanceMM: uint16(distance / 2), Status: StatusSigmaFail}
		n++
	}
	return n, nil
}

func (d *SimulatedDevice) ClearInterrupt() error {
	d.ready = false
	d.next = d.clock() + d.interval
	return nil
}
