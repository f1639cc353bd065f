// Package control 实时控制循环
//
// 单个协程按固定周期运行：每拍更新倾角，每 RangingDivider 拍轮询测距与电机反馈，
// 每拍消费入站命令，每秒做一次健康检查。所有观察者回调都在本协程内同步执行。
package control

import (
	"context"
	"strconv"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/bridge"
	"github.com/fungus-wine/calvin-instinctus/internal/eventchannel"
	"github.com/fungus-wine/calvin-instinctus/internal/health"
	"github.com/fungus-wine/calvin-instinctus/internal/models"
	"github.com/fungus-wine/calvin-instinctus/internal/safety"

	"go.uber.org/zap"
)

// TiltSource 倾角估计（fusion.TiltEstimator）
type TiltSource interface {
	Step() (models.TiltState, bool)
	State() models.TiltState
	LastSample() models.TiltSample
}

// Ranger 测距（ranging.ObstacleRanger）
type Ranger interface {
	Poll() int
}

// Drive 电机状态（safety.DriveCoordinator）
type Drive interface {
	BothReady() bool
	Speeds() (left, right float64)
	RequestStatus(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Config 调度参数
type Config struct {
	Period           time.Duration
	RangingDivider   int
	TelemetryDivider int
	HealthInterval   time.Duration
	PeerTimeout      time.Duration
	InboundBudget    int
}

// DefaultConfig 100Hz 倾角、20Hz 测距、10Hz 平衡遥测
func DefaultConfig() Config {
	return Config{
		Period:           10 * time.Millisecond,
		RangingDivider:   5,
		TelemetryDivider: 10,
		HealthInterval:   time.Second,
		PeerTimeout:      health.DefaultPeerTimeout,
		InboundBudget:    eventchannel.DefaultCapacity,
	}
}

// Components 控制循环依赖
type Components struct {
	Tilt      TiltSource
	Ranger    Ranger
	Drive     Drive
	Interlock *safety.Interlock
	Channel   *eventchannel.Channel
	Emitter   *bridge.Emitter
	Indicator *StatusIndicator
	Faults    *models.FaultFlags
	Clock     func() time.Duration
}

// Stats 循环计数
type Stats struct {
	Ticks      uint64
	TiltCycles uint64
	Inbound    uint64
	Unknown    uint64
	Overruns   uint64
}

// ControlLoop 实时控制循环
type ControlLoop struct {
	cfg      Config
	c        Components
	liveness *health.LivenessMonitor
	logger   *zap.Logger

	stats       Stats
	lastHealth  time.Duration
	lastDropped uint64
	motorFault  bool
}

// NewControlLoop 创建控制循环
func NewControlLoop(cfg Config, c Components, logger *zap.Logger) *ControlLoop {
	if cfg.RangingDivider < 1 {
		cfg.RangingDivider = 1
	}
	if cfg.TelemetryDivider < 1 {
		cfg.TelemetryDivider = 1
	}
	if cfg.InboundBudget < 1 {
		cfg.InboundBudget = 1
	}
	l := &ControlLoop{
		cfg:    cfg,
		c:      c,
		logger: logger,
	}
	if c.Interlock != nil {
		c.Interlock.OnTransition(l.onInterlockTransition)
	}
	return l
}

// Start 发出启动事件并开始心跳计时；必须在第一次 Tick 之前调用
func (l *ControlLoop) Start() {
	now := l.c.Clock()
	l.lastHealth = now
	l.liveness = health.NewLivenessMonitor("relay", l.cfg.PeerTimeout, models.FaultPeerSilent, l.c.Faults, now, l.logger)
	l.c.Emitter.EmitText(models.KindSystemStartup, "reflex online")
	l.logger.Info("Control loop started",
		zap.Duration("period", l.cfg.Period),
		zap.Int("ranging_divider", l.cfg.RangingDivider),
	)
}

// Run 按固定周期执行 Tick 直到 ctx 取消，退出前停下电机
func (l *ControlLoop) Run(ctx context.Context) error {
	l.Start()
	ticker := time.NewTicker(l.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case <-ticker.C:
			start := l.c.Clock()
			l.Tick(ctx)
			if l.c.Clock()-start > l.cfg.Period {
				l.stats.Overruns++
			}
		}
	}
}

func (l *ControlLoop) shutdown() {
	if l.c.Drive != nil {
		if err := l.c.Drive.Stop(context.Background()); err != nil {
			l.logger.Error("Failed to stop motors on shutdown", zap.Error(err))
		}
	}
	l.logger.Info("Control loop stopped",
		zap.Uint64("ticks", l.stats.Ticks),
		zap.Uint64("overruns", l.stats.Overruns),
	)
}

// Tick 执行一个控制周期
func (l *ControlLoop) Tick(ctx context.Context) {
	l.stats.Ticks++

	if _, ok := l.c.Tilt.Step(); ok {
		l.stats.TiltCycles++
		if l.stats.TiltCycles%uint64(l.cfg.TelemetryDivider) == 0 {
			l.emitBalanceData()
		}
	}

	if l.stats.Ticks%uint64(l.cfg.RangingDivider) == 0 {
		if l.c.Ranger != nil {
			l.c.Ranger.Poll()
		}
		if l.c.Drive != nil {
			_ = l.c.Drive.RequestStatus(ctx)
		}
	}

	eventchannel.Drain(l.c.Channel.Inbound, l.cfg.InboundBudget, l.handleInbound)

	now := l.c.Clock()
	if now-l.lastHealth >= l.cfg.HealthInterval {
		l.lastHealth = now
		l.checkHealth(now)
	}
}

// Stats 返回计数快照
func (l *ControlLoop) Stats() Stats {
	return l.stats
}

func (l *ControlLoop) handleInbound(rec models.EventRecord) {
	l.stats.Inbound++
	switch rec.Kind {
	case models.KindEmergencyStop:
		reason := "operator"
		if rec.Len > 0 {
			reason = rec.Text()
		}
		if l.c.Interlock != nil {
			l.c.Interlock.Trip(reason)
		}
	case models.KindInterlockReset:
		if l.c.Interlock != nil && !l.c.Interlock.Reset() {
			l.logger.Info("Interlock reset ignored, already armed")
		}
	case models.KindSystemStatus:
		l.liveness.Beat(l.c.Clock())
	default:
		l.stats.Unknown++
		l.logger.Debug("Ignoring inbound event", zap.Stringer("kind", rec.Kind))
	}
}

func (l *ControlLoop) emitBalanceData() {
	s := l.c.Tilt.LastSample()
	l.c.Emitter.EmitCSV(models.KindBalanceData, 2,
		s.AccelX, s.AccelY, s.AccelZ,
		s.GyroX, s.GyroY, s.GyroZ,
		l.c.Tilt.State().Angle,
	)
}

func (l *ControlLoop) checkHealth(now time.Duration) {
	if l.c.Drive != nil {
		ready := l.c.Drive.BothReady()
		if !ready && !l.motorFault {
			l.c.Faults.Set(models.FaultMotorNotReady)
			l.logger.Warn("Drive motors not ready")
		} else if ready && l.motorFault {
			l.c.Faults.Clear(models.FaultMotorNotReady)
			l.logger.Info("Drive motors ready")
		}
		l.motorFault = !ready
		l.emitMotorStatus(ready)
	}

	dropped := l.c.Channel.Outbound.Dropped()
	if dropped == l.lastDropped && l.c.Faults.Has(models.FaultChannelSaturated) {
		l.c.Faults.Clear(models.FaultChannelSaturated)
		l.logger.Info("Outbound event channel recovered", zap.Uint64("dropped_total", dropped))
	}
	l.lastDropped = dropped

	l.liveness.Check(now)
	l.emitSystemStatus(dropped)
	l.c.Indicator.Update(l.c.Faults.Load())
}

func (l *ControlLoop) emitMotorStatus(ready bool) {
	left, right := l.c.Drive.Speeds()
	buf := bridge.AppendCSV(l.c.Emitter.Scratch(), 1, left, right)
	buf = append(buf, ',')
	if ready {
		buf = append(buf, '1')
	} else {
		buf = append(buf, '0')
	}
	l.c.Emitter.Emit(models.KindMotorStatus, buf)
}

// 负载格式：state=armed drops=3 faults=0x12
func (l *ControlLoop) emitSystemStatus(dropped uint64) {
	state := safety.StateArmed
	if l.c.Interlock != nil {
		state = l.c.Interlock.State()
	}
	buf := append(l.c.Emitter.Scratch(), "state="...)
	buf = append(buf, state.String()...)
	buf = append(buf, " drops="...)
	buf = strconv.AppendUint(buf, dropped, 10)
	buf = append(buf, " faults=0x"...)
	buf = strconv.AppendUint(buf, uint64(l.c.Faults.Load()), 16)
	l.c.Emitter.Emit(models.KindSystemStatus, buf)
}

func (l *ControlLoop) onInterlockTransition(_, to safety.State, reason string) {
	buf := append(l.c.Emitter.Scratch(), to.String()...)
	buf = append(buf, ',')
	buf = append(buf, reason...)
	l.c.Emitter.Emit(models.KindSafetyAlert, buf)
}
