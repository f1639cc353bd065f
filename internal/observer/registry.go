// Package observer 提供固定容量的观察者注册表
//
// 倾角估计器与测距器在同一个控制周期内同步通知观察者：
// 按注册顺序逐个调用，每个回调返回后才调用下一个，全部完成后触发通知的
// Update/Poll 才返回。因此所有观察者实现都必须快速且不阻塞。
//
// 注册只发生在初始化阶段，Seal 之后注册表不可变。空观察者（包括类型化的空指针）
// 在注册时被拒绝，热路径上没有空指针检查。
package observer

import (
	"errors"
	"reflect"

	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

// MaxObservers 每种能力可注册的观察者上限
const MaxObservers = 8

var (
	ErrCapacityExceeded   = errors.New("observer: capacity exceeded")
	ErrRegistrySealed     = errors.New("observer: registry sealed")
	ErrCapabilityMismatch = errors.New("observer: sink does not implement capability")
	ErrInvalidThreshold   = errors.New("observer: obstacle threshold must be positive")
	ErrUnknownCapability  = errors.New("observer: unknown capability")
	ErrNilObserver        = errors.New("observer: nil sink")
)

// Capability 观察者能力
type Capability uint8

const (
	CapabilityTilt      Capability = iota + 1 // 接收倾角事件
	CapabilityProximity                       // 接收接近/障碍事件
)

func (c Capability) String() string {
	switch c {
	case CapabilityTilt:
		return "tilt"
	case CapabilityProximity:
		return "proximity"
	default:
		return "unknown"
	}
}

// TiltObserver 倾角事件观察者
type TiltObserver interface {
	// OnTiltChange 滤波倾角相对上一周期变化超过阈值时调用
	OnTiltChange(angle float64)
	// OnEmergency 倾角超过紧急阈值时每个周期都调用
	OnEmergency(angle float64)
}

// ObstacleObserver 障碍物接近事件观察者
type ObstacleObserver interface {
	OnObstacle(sensor models.SensorID, distanceMM float64)
	// ThresholdMM 距离小于该值才视为检测到障碍（每个观察者独立）
	ThresholdMM() float64
}

// Handle 注册句柄
type Handle struct {
	Capability Capability
	Index      int
}

// Registry 观察者注册表
type Registry struct {
	tilt  [MaxObservers]TiltObserver
	tiltN int

	obstacle   [MaxObservers]ObstacleObserver
	thresholds [MaxObservers]float64
	obstacleN  int

	sealed bool
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 按能力注册观察者，注册顺序即通知顺序
func (r *Registry) Register(capability Capability, sink interface{}) (Handle, error) {
	if r.sealed {
		return Handle{}, ErrRegistrySealed
	}
	if isNil(sink) {
		return Handle{}, ErrNilObserver
	}

	switch capability {
	case CapabilityTilt:
		obs, ok := sink.(TiltObserver)
		if !ok {
			return Handle{}, ErrCapabilityMismatch
		}
		if r.tiltN == MaxObservers {
			return Handle{}, ErrCapacityExceeded
		}
		r.tilt[r.tiltN] = obs
		r.tiltN++
		return Handle{Capability: capability, Index: r.tiltN - 1}, nil

	case CapabilityProximity:
		obs, ok := sink.(ObstacleObserver)
		if !ok {
			return Handle{}, ErrCapabilityMismatch
		}
		threshold := obs.ThresholdMM()
		if threshold <= 0 {
			return Handle{}, ErrInvalidThreshold
		}
		if r.obstacleN == MaxObservers {
			return Handle{}, ErrCapacityExceeded
		}
		r.obstacle[r.obstacleN] = obs
		r.thresholds[r.obstacleN] = threshold
		r.obstacleN++
		return Handle{Capability: capability, Index: r.obstacleN - 1}, nil

	default:
		return Handle{}, ErrUnknownCapability
	}
}

// isNil 只在注册阶段调用，接口里装着空指针时 sink != nil 仍然成立
func isNil(sink interface{}) bool {
	if sink == nil {
		return true
	}
	v := reflect.ValueOf(sink)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Seal 结束注册阶段
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed 是否已结束注册
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Count 返回某能力已注册的观察者数
func (r *Registry) Count(capability Capability) int {
	switch capability {
	case CapabilityTilt:
		return r.tiltN
	case CapabilityProximity:
		return r.obstacleN
	default:
		return 0
	}
}

// NotifyTiltChange 通知所有倾角观察者
func (r *Registry) NotifyTiltChange(angle float64) {
	for i := 0; i < r.tiltN; i++ {
		r.tilt[i].OnTiltChange(angle)
	}
}

// NotifyEmergency 通知所有倾角观察者进入紧急倾角
func (r *Registry) NotifyEmergency(angle float64) {
	for i := 0; i < r.tiltN; i++ {
		r.tilt[i].OnEmergency(angle)
	}
}

// NotifyObstacle 将一次有效测距分发给阈值大于该距离的观察者
func (r *Registry) NotifyObstacle(sensor models.SensorID, distanceMM float64) {
	for i := 0; i < r.obstacleN; i++ {
		if distanceMM < r.thresholds[i] {
			r.obstacle[i].OnObstacle(sensor, distanceMM)
		}
	}
}
