// Package service 组装反射层：实时控制循环、通信中继循环与各输出端
package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/fungus-wine/calvin-instinctus/common/database"
	"github.com/fungus-wine/calvin-instinctus/common/logger"
	"github.com/fungus-wine/calvin-instinctus/common/mqtt"
	"github.com/fungus-wine/calvin-instinctus/common/redis"
	"github.com/fungus-wine/calvin-instinctus/internal/bridge"
	"github.com/fungus-wine/calvin-instinctus/internal/config"
	"github.com/fungus-wine/calvin-instinctus/internal/control"
	"github.com/fungus-wine/calvin-instinctus/internal/eventchannel"
	"github.com/fungus-wine/calvin-instinctus/internal/fusion"
	"github.com/fungus-wine/calvin-instinctus/internal/models"
	"github.com/fungus-wine/calvin-instinctus/internal/motor"
	"github.com/fungus-wine/calvin-instinctus/internal/observer"
	"github.com/fungus-wine/calvin-instinctus/internal/ranging"
	"github.com/fungus-wine/calvin-instinctus/internal/relay"
	"github.com/fungus-wine/calvin-instinctus/internal/repository"
	"github.com/fungus-wine/calvin-instinctus/internal/safety"

	"go.uber.org/zap"
)

// ReflexService 反射层服务（整合各层）
type ReflexService struct {
	config *config.Config
	hw     *Hardware
	logger *zap.Logger
	faults models.FaultFlags

	channel   *eventchannel.Channel
	registry  *observer.Registry
	estimator *fusion.TiltEstimator
	ranger    *ranging.ObstacleRanger
	left      *motor.ODrive
	right     *motor.ODrive
	drive     *safety.DriveCoordinator
	interlock *safety.Interlock
	loop      *control.ControlLoop
	relay     *relay.Relay
	commands  *relay.CommandQueue

	redisClient *redis.Client
	mqttClient  *mqtt.Client
	db          *sql.DB

	cancel   context.CancelFunc
	loops    sync.WaitGroup
	listener sync.WaitGroup
}

// NewReflexService 创建反射层服务
func NewReflexService(ctx context.Context, cfg *config.Config, log *zap.Logger, hw *Hardware) (*ReflexService, error) {
	s := &ReflexService{config: cfg, hw: hw, logger: log}
	ctrlLog := logger.ForContext(log, "control")
	relayLog := logger.ForContext(log, "relay")

	// 1. 事件通道与观察者注册表
	channel, err := eventchannel.New(cfg.Channel.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create event channel: %w", err)
	}
	s.channel = channel
	s.registry = observer.NewRegistry()
	emitter := bridge.NewEmitter(channel.Outbound, &s.faults, ctrlLog)

	// 2. 传感器
	s.estimator = fusion.NewTiltEstimator(hw.IMU, s.registry, fusion.Options{
		Alpha:                 cfg.Tilt.Alpha,
		ChangeThresholdDeg:    cfg.Tilt.ChangeThresholdDeg,
		EmergencyThresholdDeg: cfg.Tilt.EmergencyThresholdDeg,
	}, &s.faults, ctrlLog)

	s.ranger = ranging.NewObstacleRanger(hw.BringUp, []*ranging.Sensor{
		ranging.NewSensor(models.SensorFront, hw.Front, s.registry, &s.faults, ctrlLog),
		ranging.NewSensor(models.SensorRear, hw.Rear, s.registry, &s.faults, ctrlLog),
	}, ctrlLog)

	// 3. 电机与安全联锁
	if s.left, err = motor.NewODrive(cfg.Motor.LeftNodeID, hw.CANTx, hw.Clock, ctrlLog.With(zap.String("wheel", "left"))); err != nil {
		return nil, err
	}
	if s.right, err = motor.NewODrive(cfg.Motor.RightNodeID, hw.CANTx, hw.Clock, ctrlLog.With(zap.String("wheel", "right"))); err != nil {
		return nil, err
	}
	s.drive = safety.NewDriveCoordinator(s.left, s.right, ctrlLog)
	s.interlock = safety.NewInterlock(s.drive, safety.HoldController{}, &s.faults, ctrlLog)

	// 4. 观察者：联锁排在最前，先停机再上报
	registrations := []struct {
		capability observer.Capability
		sink       interface{}
	}{
		{observer.CapabilityTilt, s.interlock},
		{observer.CapabilityTilt, bridge.NewTiltBridge(emitter)},
		{observer.CapabilityProximity, bridge.NewCollisionBridge(emitter, cfg.Ranging.CollisionMM)},
		{observer.CapabilityProximity, bridge.NewProximityBridge(emitter, cfg.Ranging.ProximityMM)},
		{observer.CapabilityProximity, bridge.NewRangingBridge(emitter, cfg.Ranging.RangingReportMM, cfg.Ranging.RangingReportEvery)},
	}
	for _, r := range registrations {
		if _, err := s.registry.Register(r.capability, r.sink); err != nil {
			return nil, fmt.Errorf("failed to register %s observer: %w", r.capability, err)
		}
	}

	// 5. 控制循环
	ctrlCfg := control.DefaultConfig()
	ctrlCfg.Period = cfg.Control.Period
	ctrlCfg.RangingDivider = cfg.Control.RangingDivider
	ctrlCfg.TelemetryDivider = cfg.Control.TelemetryDivider
	ctrlCfg.HealthInterval = cfg.Control.HealthInterval
	ctrlCfg.PeerTimeout = cfg.Control.PeerTimeout
	ctrlCfg.InboundBudget = cfg.Channel.Capacity
	s.loop = control.NewControlLoop(ctrlCfg, control.Components{
		Tilt:      s.estimator,
		Ranger:    s.ranger,
		Drive:     s.drive,
		Interlock: s.interlock,
		Channel:   channel,
		Emitter:   emitter,
		Indicator: control.NewStatusIndicator(hw.StatusLED, ctrlLog),
		Faults:    &s.faults,
		Clock:     hw.Clock,
	}, ctrlLog)

	// 6. 中继与输出端
	s.commands = relay.NewCommandQueue(cfg.Relay.CommandBacklog, relayLog)
	sinks := []relay.Sink{relay.NewLogSink(relayLog)}
	sinks = append(sinks, s.openSinks(ctx, relayLog)...)

	relayCfg := relay.DefaultConfig()
	relayCfg.Period = cfg.Relay.Period
	relayCfg.HeartbeatInterval = cfg.Relay.HeartbeatInterval
	relayCfg.PeerTimeout = cfg.Control.PeerTimeout
	relayCfg.SinkTimeout = cfg.Relay.SinkTimeout
	s.relay = relay.NewRelay(relayCfg, channel, sinks, s.commands, &s.faults, hw.Clock, relayLog)

	return s, nil
}

// openSinks 连接已启用的外部输出端；连接失败只记日志，不影响平衡
func (s *ReflexService) openSinks(ctx context.Context, log *zap.Logger) []relay.Sink {
	cfg := s.config
	var sinks []relay.Sink

	if cfg.Redis.Enabled {
		// 与中继输出端超时一致，Redis 卡住时不拖住中继周期
		redisCfg := cfg.Redis
		if redisCfg.Timeout == 0 {
			redisCfg.Timeout = cfg.Relay.SinkTimeout
		}
		client := redis.NewRedisClient(&redisCfg)
		if err := redis.Ping(ctx, client); err != nil {
			log.Warn("Redis unavailable, stream sink disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			_ = redis.Close(client)
		} else {
			s.redisClient = client
			sinks = append(sinks, relay.NewStreamSink(client, cfg.Relay.Stream, cfg.Relay.StreamMaxLen, cfg.Relay.StatusKey, cfg.Relay.StatusTTL))
		}
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT unavailable, telemetry mirror and operator commands disabled", zap.Error(err))
		} else {
			s.mqttClient = client
			sinks = append(sinks, relay.NewMQTTSink(client, cfg.Relay.TopicPrefix, cfg.MQTT.QoS))
			if err := client.Subscribe(cfg.Relay.CommandTopic, cfg.MQTT.QoS, s.commands.HandleMessage); err != nil {
				log.Warn("Failed to subscribe to operator commands", zap.String("topic", cfg.Relay.CommandTopic), zap.Error(err))
			}
		}
	}

	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			log.Warn("Safety journal unavailable", zap.String("host", cfg.Database.Host), zap.Error(err))
		} else {
			s.db = db
			repo := repository.NewSafetyJournalRepository(db, log)
			if err := repo.EnsureSchema(ctx); err != nil {
				log.Warn("Failed to prepare safety journal table", zap.Error(err))
			}
			sinks = append(sinks, relay.NewJournalSink(repo, cfg.RobotID, cfg.Relay.JournalInterval))
		}
	}

	return sinks
}

// Start 初始化设备、结束注册并启动两个循环
func (s *ReflexService) Start(ctx context.Context) error {
	s.logger.Info("Starting reflex service",
		zap.String("robot_id", s.config.RobotID),
		zap.Bool("simulate", s.config.Simulate),
	)

	// 设备初始化失败只置故障位，循环照常运行
	if err := s.estimator.Initialize(); err != nil {
		s.logger.Error("Tilt estimator unavailable", zap.Error(err))
	}
	if err := s.ranger.Initialize(); err != nil {
		s.logger.Warn("Obstacle ranger degraded", zap.Error(err))
	}
	for _, axis := range []*motor.ODrive{s.left, s.right} {
		if err := axis.Initialize(ctx); err != nil {
			s.logger.Warn("Motor not responding", zap.Uint8("node_id", axis.NodeID()), zap.Error(err))
		}
	}
	s.registry.Seal()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.goRun(&s.loops, "control", func() error { return s.loop.Run(runCtx) })
	s.goRun(&s.loops, "relay", func() error { return s.relay.Run(runCtx) })
	s.goRun(&s.listener, "can", func() error {
		return motor.Listen(runCtx, s.hw.CANRx, s.logger, s.left, s.right)
	})
	return nil
}

func (s *ReflexService) goRun(wg *sync.WaitGroup, name string, fn func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(); err != nil {
			s.logger.Error("Loop exited with error", zap.String("loop", name), zap.Error(err))
		}
	}()
}

// Faults 当前故障位
func (s *ReflexService) Faults() models.Fault {
	return s.faults.Load()
}

// Stop 停止循环（控制循环退出前停下电机）并关闭外部连接
func (s *ReflexService) Stop() error {
	s.logger.Info("Stopping reflex service")

	if s.cancel != nil {
		s.cancel()
	}
	// 控制循环退出时会发送停机帧，之后才能关闭 CAN 连接
	s.loops.Wait()
	if err := s.hw.Close(); err != nil {
		s.logger.Error("Failed to close hardware", zap.Error(err))
	}
	s.listener.Wait()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := redis.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	return nil
}
