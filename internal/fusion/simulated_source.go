package fusion

import (
	"math"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

const gravity = 9.80665

// SimulatedSource 台架模拟 IMU：绕直立位置做正弦摆动
type SimulatedSource struct {
	// AmplitudeDeg 摆动幅度（度）
	AmplitudeDeg float64
	// Period 摆动周期
	Period time.Duration
	// DropEvery > 0 时每 DropEvery 次读取失败一次，用于演练瞬时读取失败
	DropEvery int

	clock func() time.Duration
	reads int
}

// NewSimulatedSource 创建模拟 IMU，clock 返回单调时间
func NewSimulatedSource(clock func() time.Duration) *SimulatedSource {
	return &SimulatedSource{
		AmplitudeDeg: 5,
		Period:       4 * time.Second,
		clock:        clock,
	}
}

func (s *SimulatedSource) Initialize() error {
	return nil
}

func (s *SimulatedSource) Read() (models.TiltSample, bool) {
	s.reads++
	if s.DropEvery > 0 && s.reads%s.DropEvery == 0 {
		return models.TiltSample{}, false
	}

	now := s.clock()
	omega := 2 * math.Pi / s.Period.Seconds()
	amp := s.AmplitudeDeg / radToDeg
	tilt := amp * math.Sin(omega*now.Seconds())
	rate := amp * omega * math.Cos(omega*now.Seconds())

	return models.TiltSample{
		AccelX:    gravity * math.Sin(tilt),
		AccelZ:    gravity * math.Cos(tilt),
		GyroY:     rate,
		Timestamp: now,
	}, true
}

// MonotonicClock 返回以调用时刻为零点的单调时钟
func MonotonicClock() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
