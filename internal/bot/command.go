package bot

import (
	"context"
	"fmt"
	"strings"
)

// Command words. "/" is the Telegram convention; "!" works on platforms
// that intercept slash commands client-side.
const (
	cmdStart    = "start"
	cmdHelp     = "help"
	cmdNoStream = "nostream"
	cmdRaw      = "raw"
	cmdReset    = "reset"
	cmdHistory  = "history"
	cmdQueue    = "queue"
)

// HistoryAdmin is the part of the history store that chat commands use.
type HistoryAdmin interface {
	SoftDeleteAll(ctx context.Context, sessionID string) error
	Count(ctx context.Context, sessionID string) (int64, error)
}

// CommandHandler answers the commands that do not generate text.
type CommandHandler struct {
	history    HistoryAdmin // nil when history is disabled
	queueDepth func() int
	capacity   int
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	History    HistoryAdmin
	QueueDepth func() int
	Capacity   int // 0 means unbounded
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.QueueDepth == nil {
		return nil, fmt.Errorf("bot: command handler: queue depth is required")
	}
	return &CommandHandler{
		history:    opts.History,
		queueDepth: opts.QueueDepth,
		capacity:   opts.Capacity,
	}, nil
}

// Execute runs a non-generating command for a session and returns the
// reply text. ok is false when cmd is not one of them.
func (ch *CommandHandler) Execute(ctx context.Context, sessionID, cmd string) (reply string, ok bool) {
	switch cmd {
	case cmdStart:
		return "Hello. Send me a message and I will answer it.\n\n" + helpText(), true
	case cmdHelp:
		return helpText(), true
	case cmdReset:
		return ch.cmdReset(ctx, sessionID), true
	case cmdHistory:
		return ch.cmdHistory(ctx, sessionID), true
	case cmdQueue:
		return ch.cmdQueue(), true
	default:
		return "", false
	}
}

func (ch *CommandHandler) cmdReset(ctx context.Context, sessionID string) string {
	if ch.history == nil {
		return "History is disabled."
	}
	if err := ch.history.SoftDeleteAll(ctx, sessionID); err != nil {
		return fmt.Sprintf("Error clearing history: %v", err)
	}
	return "History cleared."
}

func (ch *CommandHandler) cmdHistory(ctx context.Context, sessionID string) string {
	if ch.history == nil {
		return "History is disabled."
	}
	n, err := ch.history.Count(ctx, sessionID)
	if err != nil {
		return fmt.Sprintf("Error reading history: %v", err)
	}
	switch n {
	case 0:
		return "No history in this conversation."
	case 1:
		return "1 exchange remembered in this conversation."
	default:
		return fmt.Sprintf("%d exchanges remembered in this conversation.", n)
	}
}

func (ch *CommandHandler) cmdQueue() string {
	depth := ch.queueDepth()
	if ch.capacity > 0 {
		return fmt.Sprintf("%d of %d queue slots in use.", depth, ch.capacity)
	}
	if depth == 1 {
		return "1 request waiting."
	}
	return fmt.Sprintf("%d requests waiting.", depth)
}

// parseCommand splits "/cmd rest" or "!cmd rest" into the lowercased
// command word and the trimmed remainder.
func parseCommand(text string) (cmd, rest string, ok bool) {
	if len(text) < 2 || (text[0] != '/' && text[0] != '!') {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), strings.TrimSpace(rest), true
}

// helpText returns usage information for all commands.
func helpText() string {
	return "Commands\n" +
		"<text> : streamed answer\n" +
		"/nostream <text> : answer sent whole, in chunks\n" +
		"/raw <text> : send text to the model without the chat template\n" +
		"/reset : forget this conversation\n" +
		"/history : how much of this conversation is remembered\n" +
		"/queue : how many requests are waiting\n" +
		"/help : this message"
}
