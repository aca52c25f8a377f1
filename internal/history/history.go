// Package history persists conversation turns per session with soft
// deletion, and reconstructs the most recent turns in chronological order.
package history

import (
	"context"
	"fmt"

	"github.com/zulandar/llamagram/internal/fault"
	"github.com/zulandar/llamagram/internal/models"
	"gorm.io/gorm"
)

// Turn is one (user prompt, answer) pair.
type Turn struct {
	UserPrompt string `json:"user_prompt"`
	Answer     string `json:"answer"`
}

// Store is the GORM-backed history store. It is safe for concurrent use;
// atomicity of appends and snapshot consistency of reads are delegated to
// the database.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on an already migrated database.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: db is required")
	}
	return &Store{db: db}, nil
}

// Append records a turn for the session.
func (s *Store) Append(ctx context.Context, sessionID, userPrompt, answer string) error {
	entry := models.HistoryEntry{
		SessionID:  sessionID,
		UserPrompt: userPrompt,
		Answer:     answer,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fault.Wrap(fault.Storage, "history append", err)
	}
	return nil
}

// Recent returns at most limit visible turns of the session: the newest
// ones, ordered oldest first. Ordering is by insertion id, never by
// whatever order the storage engine happens to return.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	var entries []models.HistoryEntry
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND deleted = ?", sessionID, false).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fault.Wrap(fault.Storage, "history recent", err)
	}

	turns := make([]Turn, len(entries))
	for i, e := range entries {
		turns[len(entries)-1-i] = Turn{UserPrompt: e.UserPrompt, Answer: e.Answer}
	}
	return turns, nil
}

// SoftDeleteAll hides every turn of the session from Recent. Rows stay in
// the table. Calling it again is a no-op.
func (s *Store) SoftDeleteAll(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.HistoryEntry{}).
		Where("session_id = ? AND deleted = ?", sessionID, false).
		Update("deleted", true).Error
	if err != nil {
		return fault.Wrap(fault.Storage, "history soft delete", err)
	}
	return nil
}

// Count returns the number of visible turns of the session.
func (s *Store) Count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.HistoryEntry{}).
		Where("session_id = ? AND deleted = ?", sessionID, false).
		Count(&n).Error
	if err != nil {
		return 0, fault.Wrap(fault.Storage, "history count", err)
	}
	return n, nil
}

// Entries returns every row of the session, deleted ones included, oldest
// first. It backs the operator CLI.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fault.Wrap(fault.Storage, "history entries", err)
	}
	return entries, nil
}
