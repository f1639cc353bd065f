package models

import "time"

// JournalEntry 安全事件日志（持久化到 safety_journal 表）
type JournalEntry struct {
	EntryID    string    `json:"entry_id"`
	RobotID    string    `json:"robot_id"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Faults     string    `json:"faults"`
	RecordedAt time.Time `json:"recorded_at"`
}
