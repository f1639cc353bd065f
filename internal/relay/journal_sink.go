package relay

import (
	"context"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

// JournalRecorder 安全日志仓库（repository.SafetyJournalRepository）
type JournalRecorder interface {
	Record(ctx context.Context, entry *models.JournalEntry) error
}

// JournalSink 把安全相关事件写入数据库
//
// 紧急停机在倾倒期间每个控制周期都会上报，同一类型在 minInterval 内只记一次。
type JournalSink struct {
	repo        JournalRecorder
	robotID     string
	minInterval time.Duration
	last        map[models.EventKind]time.Time
}

// NewJournalSink 创建数据库输出端
func NewJournalSink(repo JournalRecorder, robotID string, minInterval time.Duration) *JournalSink {
	return &JournalSink{
		repo:        repo,
		robotID:     robotID,
		minInterval: minInterval,
		last:        make(map[models.EventKind]time.Time),
	}
}

func (s *JournalSink) Name() string {
	return "journal"
}

func journaled(kind models.EventKind) bool {
	switch kind {
	case models.KindEmergencyStop, models.KindSafetyAlert, models.KindCollisionWarning, models.KindSystemStartup:
		return true
	}
	return false
}

func (s *JournalSink) Handle(ctx context.Context, env Envelope) error {
	kind := env.EventKind()
	if !journaled(kind) {
		return nil
	}
	// 状态切换每次都记
	if kind != models.KindSafetyAlert {
		if last, ok := s.last[kind]; ok && env.ReceivedAt.Sub(last) < s.minInterval {
			return nil
		}
	}
	if err := s.repo.Record(ctx, &models.JournalEntry{
		RobotID:    s.robotID,
		Kind:       env.Kind,
		Payload:    env.Payload,
		Faults:     env.Faults,
		RecordedAt: env.ReceivedAt,
	}); err != nil {
		return err
	}
	s.last[kind] = env.ReceivedAt
	return nil
}
