package ranging

import (
	"errors"
	"fmt"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MaxClearFailures 连续清中断失败达到该次数后停用传感器
const MaxClearFailures = 3

// Notifier 障碍事件接收方（通常是 observer.Registry）
type Notifier interface {
	NotifyObstacle(sensor models.SensorID, distanceMM float64)
}

// Sensor 单个 ToF 传感器的轮询状态
type Sensor struct {
	id       models.SensorID
	dev      Device
	notifier Notifier
	faults   *models.FaultFlags
	logger   *zap.Logger

	active        bool
	clearFailures int
	reading       models.DistanceReading
	targets       [MaxTargets]Target
}

// NewSensor 创建传感器，id 在生命周期内不变
func NewSensor(id models.SensorID, dev Device, notifier Notifier, faults *models.FaultFlags, logger *zap.Logger) *Sensor {
	return &Sensor{
		id:       id,
		dev:      dev,
		notifier: notifier,
		faults:   faults,
		logger:   logger.With(zap.String("sensor", string(id))),
		reading:  models.NoReading,
	}
}

// ID 传感器标签
func (s *Sensor) ID() models.SensorID {
	return s.id
}

// Active 传感器是否已成功初始化
func (s *Sensor) Active() bool {
	return s.active
}

// Reading 最近一次有效测距；尚无测距时为 models.NoReading
func (s *Sensor) Reading() models.DistanceReading {
	return s.reading
}

// Initialize 初始化并启动连续测距；失败后传感器保持停用，不重试
func (s *Sensor) Initialize() error {
	if s.dev == nil {
		s.disable(ErrSensorNotFound)
		return fmt.Errorf("%w: %s", ErrSensorNotFound, s.id)
	}
	if err := s.dev.Init(); err != nil {
		s.disable(err)
		return fmt.Errorf("%w: %s: %v", ErrRangerInit, s.id, err)
	}
	if err := s.dev.StartRanging(); err != nil {
		s.disable(err)
		return fmt.Errorf("%w: %s: failed to start ranging: %v", ErrRangerInit, s.id, err)
	}
	s.active = true
	s.clearFailures = 0
	s.faults.Clear(models.RangerInactiveFault(s.id))
	s.logger.Info("ToF sensor ranging")
	return nil
}

func (s *Sensor) disable(err error) {
	s.active = false
	if !s.faults.Set(models.RangerInactiveFault(s.id)) {
		s.logger.Error("ToF sensor inactive", zap.Error(err))
	}
}

// Poll 非阻塞读取：数据未就绪或无有效目标时返回 false
func (s *Sensor) Poll() (models.DistanceReading, bool) {
	if !s.active {
		return s.reading, false
	}

	ready, err := s.dev.DataReady()
	if err != nil || !ready {
		return s.reading, false
	}

	n, err := s.dev.Targets(s.targets[:])
	// 读取之后无论结果如何都要清中断，否则传感器不会开始下一次测量
	if !s.clearInterrupt() {
		return s.reading, false
	}
	if err != nil {
		return s.reading, false
	}
	if n > len(s.targets) {
		n = len(s.targets)
	}

	distance, ok := closest(s.targets[:n])
	if !ok {
		return s.reading, false
	}

	s.reading = models.DistanceReading{
		DistanceMM: float64(distance),
		Valid:      true,
		Seq:        s.reading.Seq + 1,
	}
	s.notifier.NotifyObstacle(s.id, s.reading.DistanceMM)
	return s.reading, true
}

// clearInterrupt 清中断；连续失败 MaxClearFailures 次后停用，返回传感器是否仍可用
func (s *Sensor) clearInterrupt() bool {
	err := s.dev.ClearInterrupt()
	if err == nil {
		s.clearFailures = 0
		return true
	}
	s.clearFailures++
	if s.clearFailures == 1 {
		s.logger.Warn("Failed to clear ToF interrupt", zap.Error(err))
	}
	if s.clearFailures >= MaxClearFailures {
		s.disable(fmt.Errorf("failed to clear interrupt %d times: %w", s.clearFailures, err))
		return false
	}
	return true
}

// ObstacleRanger 前后两个 ToF 传感器：一次性上电地址分配，之后非阻塞轮询
type ObstacleRanger struct {
	bringUp *BringUp
	sensors []*Sensor
	logger  *zap.Logger
}

// NewObstacleRanger 创建测距器；bringUp 为 nil 时跳过地址分配（模拟设备或单传感器）
func NewObstacleRanger(bringUp *BringUp, sensors []*Sensor, logger *zap.Logger) *ObstacleRanger {
	return &ObstacleRanger{
		bringUp: bringUp,
		sensors: sensors,
		logger:  logger,
	}
}

// Initialize 地址分配后逐个初始化传感器
//
// 单个传感器失败只停用该传感器；返回的错误汇总所有失败。
func (o *ObstacleRanger) Initialize() error {
	failed := make(map[models.SensorID]error)
	var errs error

	if o.bringUp != nil {
		err := o.bringUp.Run()
		for _, e := range multierr.Errors(err) {
			var se *SensorError
			if errors.As(e, &se) {
				failed[se.Sensor] = se
				continue
			}
			// 地址规划本身无效：所有传感器都不能安全上电
			for _, s := range o.sensors {
				failed[s.id] = e
			}
		}
		errs = multierr.Append(errs, err)
	}

	active := 0
	for _, s := range o.sensors {
		if err, ok := failed[s.id]; ok {
			s.disable(err)
			continue
		}
		if err := s.Initialize(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		active++
	}

	o.logger.Info("Obstacle ranger initialized",
		zap.Int("active", active),
		zap.Int("configured", len(o.sensors)),
	)
	return errs
}

// Poll 轮询所有传感器，返回本周期获得新测距的数量
func (o *ObstacleRanger) Poll() int {
	fresh := 0
	for _, s := range o.sensors {
		if _, ok := s.Poll(); ok {
			fresh++
		}
	}
	return fresh
}

// Sensors 返回全部传感器（按配置顺序）
func (o *ObstacleRanger) Sensors() []*Sensor {
	return o.sensors
}

// Reading 按标签查询最近测距
func (o *ObstacleRanger) Reading(id models.SensorID) (models.DistanceReading, bool) {
	for _, s := range o.sensors {
		if s.id == id {
			return s.reading, true
		}
	}
	return models.NoReading, false
}
