package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/eventchannel"
	"github.com/fungus-wine/calvin-instinctus/internal/health"
	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
)

// Config 中继参数
type Config struct {
	Period            time.Duration
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	SinkTimeout       time.Duration
}

// DefaultConfig 50Hz 中继，每秒一次心跳
func DefaultConfig() Config {
	return Config{
		Period:            20 * time.Millisecond,
		HeartbeatInterval: time.Second,
		PeerTimeout:       health.DefaultPeerTimeout,
		SinkTimeout:       250 * time.Millisecond,
	}
}

// Stats 中继计数
type Stats struct {
	Relayed      uint64
	SinkErrors   uint64
	Commands     uint64
	Heartbeats   uint64
	InboundDrops uint64
}

// Relay 通信侧中继循环
type Relay struct {
	cfg      Config
	channel  *eventchannel.Channel
	sinks    []Sink
	commands *CommandQueue
	faults   *models.FaultFlags
	clock    func() time.Duration
	wall     func() time.Time
	logger   *zap.Logger

	liveness  *health.LivenessMonitor
	lastBeat  time.Duration
	failing   map[string]bool
	stats     Stats
	heartbeat [models.PayloadSize]byte
}

// NewRelay 创建中继；commands 可以为 nil
func NewRelay(cfg Config, channel *eventchannel.Channel, sinks []Sink, commands *CommandQueue, faults *models.FaultFlags, clock func() time.Duration, logger *zap.Logger) *Relay {
	return &Relay{
		cfg:      cfg,
		channel:  channel,
		sinks:    sinks,
		commands: commands,
		faults:   faults,
		clock:    clock,
		wall:     time.Now,
		logger:   logger,
		failing:  make(map[string]bool, len(sinks)),
	}
}

// Start 开始心跳计时；必须在第一次 Tick 之前调用
func (r *Relay) Start() {
	now := r.clock()
	r.lastBeat = now
	r.liveness = health.NewLivenessMonitor("control", r.cfg.PeerTimeout, models.FaultControlSilent, r.faults, now, r.logger)

	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	r.logger.Info("Relay loop started",
		zap.Duration("period", r.cfg.Period),
		zap.Strings("sinks", names),
	)
}

// Run 按固定周期执行 Tick 直到 ctx 取消
func (r *Relay) Run(ctx context.Context) error {
	r.Start()
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 退出前把积压的出站事件发完
			r.drainOutbound(context.Background())
			r.logger.Info("Relay loop stopped",
				zap.Uint64("relayed", r.stats.Relayed),
				zap.Uint64("sink_errors", r.stats.SinkErrors),
			)
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick 执行一个中继周期
func (r *Relay) Tick(ctx context.Context) {
	r.drainOutbound(ctx)

	if r.commands != nil {
		for {
			rec, ok := r.commands.next()
			if !ok {
				break
			}
			r.stats.Commands++
			r.pushInbound(rec)
		}
	}

	now := r.clock()
	if now-r.lastBeat >= r.cfg.HeartbeatInterval {
		r.lastBeat = now
		r.sendHeartbeat()
	}
	r.liveness.Check(now)
}

// Stats 返回计数快照
func (r *Relay) Stats() Stats {
	return r.stats
}

func (r *Relay) drainOutbound(ctx context.Context) {
	eventchannel.Drain(r.channel.Outbound, r.channel.Outbound.Capacity(), func(rec models.EventRecord) {
		if rec.Kind == models.KindSystemStatus && r.liveness != nil {
			r.liveness.Beat(r.clock())
		}
		if !rec.Kind.Valid() {
			r.logger.Warn("Dropping event of unknown kind", zap.Uint8("kind", uint8(rec.Kind)))
			return
		}
		r.stats.Relayed++
		env := NewEnvelope(r.stats.Relayed, rec, r.faults.Load(), r.wall())
		r.dispatch(ctx, env)
	})
}

func (r *Relay) dispatch(ctx context.Context, env Envelope) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
		err := s.Handle(sctx, env)
		cancel()

		name := s.Name()
		if err != nil {
			r.stats.SinkErrors++
			if !r.failing[name] {
				r.failing[name] = true
				r.logger.Warn("Event sink failing", zap.String("sink", name), zap.Error(err))
			}
			continue
		}
		if r.failing[name] {
			r.failing[name] = false
			r.logger.Info("Event sink recovered", zap.String("sink", name))
		}
	}
}

func (r *Relay) sendHeartbeat() {
	r.stats.Heartbeats++
	buf := append(r.heartbeat[:0], "relay,"...)
	buf = strconv.AppendUint(buf, r.stats.Heartbeats, 10)
	var rec models.EventRecord
	rec.Kind = models.KindSystemStatus
	rec.SetBytes(buf)
	r.pushInbound(rec)
}

func (r *Relay) pushInbound(rec models.EventRecord) {
	if r.channel.Inbound.TryPush(rec) {
		return
	}
	r.stats.InboundDrops++
	if r.stats.InboundDrops == 1 {
		r.logger.Warn("Inbound event channel full, dropping", zap.Stringer("kind", rec.Kind))
	}
}
