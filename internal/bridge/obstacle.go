package bridge

import (
	"strconv"

	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

// 默认阈值（毫米）
const (
	DefaultProximityThresholdMM = 300
	DefaultCollisionThresholdMM = 100
	DefaultRangingThresholdMM   = 4000
)

// DefaultRangingReportEvery 每个传感器每 10 次有效测距上报一次 RangingData
const DefaultRangingReportEvery = 10

// maxRangingSensors RangingBridge 分别计数的传感器上限
const maxRangingSensors = 4

// ObstacleBridge 障碍事件桥，负载格式 "<sensor>,<distance>"
//
// 同一个传感器可以挂多个桥：不同阈值产生不同级别的事件。
type ObstacleBridge struct {
	emitter     *Emitter
	kind        models.EventKind
	thresholdMM float64
}

// NewObstacleBridge 创建障碍事件桥
func NewObstacleBridge(emitter *Emitter, kind models.EventKind, thresholdMM float64) *ObstacleBridge {
	return &ObstacleBridge{
		emitter:     emitter,
		kind:        kind,
		thresholdMM: thresholdMM,
	}
}

// NewProximityBridge ProximityWarning 桥
func NewProximityBridge(emitter *Emitter, thresholdMM float64) *ObstacleBridge {
	return NewObstacleBridge(emitter, models.KindProximityWarning, thresholdMM)
}

// NewCollisionBridge CollisionWarning 桥
func NewCollisionBridge(emitter *Emitter, thresholdMM float64) *ObstacleBridge {
	return NewObstacleBridge(emitter, models.KindCollisionWarning, thresholdMM)
}

func (b *ObstacleBridge) ThresholdMM() float64 {
	return b.thresholdMM
}

func (b *ObstacleBridge) OnObstacle(sensor models.SensorID, distanceMM float64) {
	buf := append(b.emitter.Scratch(), sensor...)
	buf = append(buf, ',')
	buf = strconv.AppendFloat(buf, distanceMM, 'f', 0, 64)
	b.emitter.Emit(b.kind, buf)
}

// RangingBridge RangingData 桥：按传感器抽样上报原始测距
//
// 每次有效测距都上报会占满出站通道，挤掉安全事件，所以只转发每个传感器的第 every 次读数。
type RangingBridge struct {
	inner *ObstacleBridge
	every int

	ids    [maxRangingSensors]models.SensorID
	counts [maxRangingSensors]int
	n      int
}

// NewRangingBridge 创建 RangingData 桥；every <= 1 时每次都上报
func NewRangingBridge(emitter *Emitter, thresholdMM float64, every int) *RangingBridge {
	if every < 1 {
		every = 1
	}
	return &RangingBridge{
		inner: NewObstacleBridge(emitter, models.KindRangingData, thresholdMM),
		every: every,
	}
}

func (b *RangingBridge) ThresholdMM() float64 {
	return b.inner.ThresholdMM()
}

func (b *RangingBridge) OnObstacle(sensor models.SensorID, distanceMM float64) {
	i := b.slot(sensor)
	if i < 0 {
		return
	}
	// 第一次读数立即上报，之后每 every 次一次
	if b.counts[i]%b.every == 0 {
		b.inner.OnObstacle(sensor, distanceMM)
	}
	b.counts[i]++
}

func (b *RangingBridge) slot(sensor models.SensorID) int {
	for i := 0; i < b.n; i++ {
		if b.ids[i] == sensor {
			return i
		}
	}
	if b.n == maxRangingSensors {
		return -1
	}
	b.ids[b.n] = sensor
	b.n++
	return b.n - 1
}
