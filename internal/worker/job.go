package worker

import (
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/llamagram/internal/fault"
	"github.com/zulandar/llamagram/internal/prompt"
	"github.com/zulandar/llamagram/internal/telegraph"
)

// Job is one generation request. It is immutable once submitted.
type Job struct {
	ID          uuid.UUID
	SessionID   string
	Input       string
	Mode        prompt.Mode
	Stream      bool
	Target      telegraph.ReplyTarget
	SubmittedAt time.Time
}

// NewJob creates a Job with a fresh ID, stamped now.
func NewJob(sessionID, input string, mode prompt.Mode, stream bool, target telegraph.ReplyTarget) Job {
	return Job{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Input:       input,
		Mode:        mode,
		Stream:      stream,
		Target:      target,
		SubmittedAt: time.Now(),
	}
}

// Outcome is the result of processing one job.
type Outcome struct {
	JobID  uuid.UUID
	Answer string
	// Kind is fault.None when the answer was generated and delivered.
	Kind fault.Kind
	Err  error
	// Persisted reports whether the turn was written to history.
	Persisted bool
	Elapsed   time.Duration
}

// OK reports whether the job succeeded.
func (o Outcome) OK() bool { return o.Kind == fault.None }
