package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/llamagram/internal/history"
)

const defaultHistoryLimit = 20

// StatusFunc returns the current status snapshot.
type StatusFunc func() Snapshot

// Snapshot is the bot's state at one instant.
type Snapshot struct {
	Platform      string    `json:"platform"`
	Engine        string    `json:"engine"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"` // 0 means unbounded
	Busy          bool      `json:"busy"`
	CurrentJob    string    `json:"current_job,omitempty"`
	Served        uint64    `json:"served"`
	Failed        uint64    `json:"failed"`
	StartedAt     time.Time `json:"started_at"`
	Uptime        string    `json:"uptime,omitempty"`
}

func (s Snapshot) withUptime() Snapshot {
	if !s.StartedAt.IsZero() {
		s.Uptime = formatDuration(time.Since(s.StartedAt))
	}
	return s
}

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]history.Turn, error)
	Count(ctx context.Context, sessionID string) (int64, error)
}

// HistoryView is one session's visible history.
type HistoryView struct {
	SessionID string         `json:"session_id"`
	Visible   int64          `json:"visible"`
	Turns     []history.Turn `json:"turns"`
}

// SessionHistory returns the newest limit visible turns of a session,
// oldest first, along with the session's total visible count.
func SessionHistory(ctx context.Context, h HistoryReader, sessionID string, limit int) (HistoryView, error) {
	turns, err := h.Recent(ctx, sessionID, limit)
	if err != nil {
		return HistoryView{}, fmt.Errorf("dashboard: history for %s: %w", sessionID, err)
	}
	count, err := h.Count(ctx, sessionID)
	if err != nil {
		return HistoryView{}, fmt.Errorf("dashboard: history count for %s: %w", sessionID, err)
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	return HistoryView{SessionID: sessionID, Visible: count, Turns: turns}, nil
}

// formatDuration formats a duration as a human-readable string like "2h 15m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		days := h / 24
		h = h % 24
		return fmt.Sprintf("%dd %dh", days, h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
