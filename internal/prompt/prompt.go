// Package prompt composes generation requests from the instruction
// template, prior turns and the current user input.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/llamagram/internal/history"
)

// Mode selects how the user input becomes a prompt.
type Mode int

const (
	// ModeTemplated wraps the input in the instruction template.
	ModeTemplated Mode = iota
	// ModeRaw uses the input verbatim as the whole prompt.
	ModeRaw
)

func (m Mode) String() string {
	if m == ModeRaw {
		return "raw"
	}
	return "templated"
}

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]history.Turn, error)
}

// Template holds the fixed strings that frame a prompt. The markers double
// as engine stop sequences.
type Template struct {
	Preamble       string
	QuestionMarker string
	AnswerMarker   string
	EndOfText      string
	TurnSeparator  string
}

// Builder builds prompts. It is safe for concurrent use.
type Builder struct {
	tmpl           Template
	fastStart      bool
	history        HistoryReader
	historyEnabled bool
	historyLimit   int
}

// BuilderOpts holds parameters for creating a Builder.
type BuilderOpts struct {
	Template       Template
	FastStart      bool          // omit the preamble
	History        HistoryReader // required when HistoryEnabled
	HistoryEnabled bool
	HistoryLimit   int
}

// NewBuilder creates a Builder.
func NewBuilder(opts BuilderOpts) (*Builder, error) {
	if opts.Template.QuestionMarker == "" || opts.Template.AnswerMarker == "" {
		return nil, fmt.Errorf("prompt: question and answer markers are required")
	}
	if opts.HistoryEnabled && opts.History == nil {
		return nil, fmt.Errorf("prompt: history reader is required when history is enabled")
	}
	return &Builder{
		tmpl:           opts.Template,
		fastStart:      opts.FastStart,
		history:        opts.History,
		historyEnabled: opts.HistoryEnabled,
		historyLimit:   opts.HistoryLimit,
	}, nil
}

// Build returns the prompt for input. Raw mode returns input unchanged and
// never touches history. If reading history fails, the prompt is built
// without it and the storage error is returned alongside; callers should
// log it and carry on.
func (b *Builder) Build(ctx context.Context, sessionID, input string, mode Mode) (string, error) {
	if mode == ModeRaw {
		return input, nil
	}

	var turns []history.Turn
	var histErr error
	if b.historyEnabled && b.historyLimit > 0 {
		turns, histErr = b.history.Recent(ctx, sessionID, b.historyLimit)
		if histErr != nil {
			turns = nil
			histErr = fmt.Errorf("prompt: load history for %s: %w", sessionID, histErr)
		}
	}

	return b.Compose(turns, input), histErr
}

// Compose renders the template around turns (oldest first) and input.
func (b *Builder) Compose(turns []history.Turn, input string) string {
	var sb strings.Builder
	if !b.fastStart {
		sb.WriteString(b.tmpl.Preamble)
	}
	for _, t := range turns {
		sb.WriteString(b.tmpl.QuestionMarker)
		sb.WriteString(t.UserPrompt)
		sb.WriteString("\n")
		sb.WriteString(b.tmpl.AnswerMarker)
		sb.WriteString(t.Answer)
		sb.WriteString("\n")
	}
	sb.WriteString(b.tmpl.QuestionMarker)
	sb.WriteString(input)
	sb.WriteString("\n")
	sb.WriteString(b.tmpl.AnswerMarker)
	return sb.String()
}

// StopSequences returns the strings that end an answer: end-of-text, the
// turn separator and both role markers. Empty and duplicate entries are
// dropped.
func (b *Builder) StopSequences() []string {
	candidates := []string{
		b.tmpl.EndOfText,
		b.tmpl.TurnSeparator,
		strings.TrimSpace(b.tmpl.QuestionMarker),
		strings.TrimSpace(b.tmpl.AnswerMarker),
	}
	seen := make(map[string]bool, len(candidates))
	var stops []string
	for _, s := range candidates {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		stops = append(stops, s)
	}
	return stops
}
