// Package health 提供对端心跳超时检测
package health

import (
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
)

// DefaultPeerTimeout 默认心跳超时
const DefaultPeerTimeout = 3 * time.Second

// LivenessMonitor 对端存活检测
//
// 心跳丢失只置故障位并记录一次日志，不会终止任何循环。
// 只在单一上下文中调用。
type LivenessMonitor struct {
	peer    string
	timeout time.Duration
	fault   models.Fault
	faults  *models.FaultFlags
	logger  *zap.Logger

	last   time.Duration
	beats  uint64
	silent bool
}

// NewLivenessMonitor 创建存活检测，start 为开始计时的单调时间
func NewLivenessMonitor(peer string, timeout time.Duration, fault models.Fault, faults *models.FaultFlags, start time.Duration, logger *zap.Logger) *LivenessMonitor {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	return &LivenessMonitor{
		peer:    peer,
		timeout: timeout,
		fault:   fault,
		faults:  faults,
		logger:  logger.With(zap.String("peer", peer)),
		last:    start,
	}
}

// Beat 收到一次心跳
func (m *LivenessMonitor) Beat(now time.Duration) {
	m.last = now
	m.beats++
	if m.silent {
		m.silent = false
		m.faults.Clear(m.fault)
		m.logger.Info("Peer heartbeat recovered", zap.Uint64("beats", m.beats))
	}
}

// Check 检查是否超时，返回对端是否存活
func (m *LivenessMonitor) Check(now time.Duration) bool {
	if m.silent {
		return false
	}
	if now-m.last > m.timeout {
		m.silent = true
		m.faults.Set(m.fault)
		m.logger.Warn("Peer heartbeat lost",
			zap.Duration("silence", now-m.last),
			zap.Duration("timeout", m.timeout),
		)
		return false
	}
	return true
}

// Alive 最近一次 Check 的结论
func (m *LivenessMonitor) Alive() bool {
	return !m.silent
}

// Beats 累计心跳数
func (m *LivenessMonitor) Beats() uint64 {
	return m.beats
}
