// Package models holds the GORM models persisted by llamagram.
package models

import "time"

// HistoryEntry is one remembered conversation turn. Rows are never
// physically removed; Deleted only hides them from context reconstruction.
type HistoryEntry struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SessionID  string    `gorm:"size:128;not null;index:idx_history_session"`
	UserPrompt string    `gorm:"type:text;not null"`
	Answer     string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
	Deleted    bool      `gorm:"not null;default:false;index:idx_history_session"`
}

// TableName pins the table name to "history".
func (HistoryEntry) TableName() string { return "history" }
