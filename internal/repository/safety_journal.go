package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SafetyJournalRepository 安全事件日志仓库
type SafetyJournalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSafetyJournalRepository 创建安全事件日志仓库
func NewSafetyJournalRepository(db *sql.DB, logger *zap.Logger) *SafetyJournalRepository {
	return &SafetyJournalRepository{
		db:     db,
		logger: logger,
	}
}

const safetyJournalSchema = `
	CREATE TABLE IF NOT EXISTS safety_journal (
		entry_id    UUID PRIMARY KEY,
		robot_id    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		payload     TEXT NOT NULL DEFAULT '',
		faults      TEXT NOT NULL DEFAULT 'ok',
		recorded_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_safety_journal_robot_time
		ON safety_journal (robot_id, recorded_at DESC);
`

// EnsureSchema 建表（已存在时不做任何事）
func (r *SafetyJournalRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, safetyJournalSchema); err != nil {
		return fmt.Errorf("failed to create safety_journal table: %w", err)
	}
	return nil
}

// Record 写入一条日志，EntryID 为空时生成
func (r *SafetyJournalRepository) Record(ctx context.Context, entry *models.JournalEntry) error {
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if entry.RobotID == "" {
		return fmt.Errorf("robot_id is required")
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}

	query := `
		INSERT INTO safety_journal (
			entry_id,
			robot_id,
			kind,
			payload,
			faults,
			recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.EntryID,
		entry.RobotID,
		entry.Kind,
		entry.Payload,
		entry.Faults,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record safety journal entry: %w", err)
	}
	return nil
}

// ListRecent 按时间倒序返回最近的日志
func (r *SafetyJournalRepository) ListRecent(ctx context.Context, robotID string, limit int) ([]*models.JournalEntry, error) {
	if robotID == "" {
		return nil, fmt.Errorf("robot_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			entry_id,
			robot_id,
			kind,
			payload,
			faults,
			recorded_at
		FROM safety_journal
		WHERE robot_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, robotID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query safety journal: %w", err)
	}
	defer rows.Close()

	var entries []*models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.EntryID, &e.RobotID, &e.Kind, &e.Payload, &e.Faults, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan safety journal entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate safety journal: %w", err)
	}
	return entries, nil
}
