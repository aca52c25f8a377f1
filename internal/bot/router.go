package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/zulandar/llamagram/internal/metrics"
	"github.com/zulandar/llamagram/internal/prompt"
	"github.com/zulandar/llamagram/internal/queue"
	"github.com/zulandar/llamagram/internal/telegraph"
	"github.com/zulandar/llamagram/internal/worker"
)

const (
	busyText     = "The bot is busy right now. Please try again in a moment."
	shutdownText = "The bot is shutting down. Please try again later."
)

// Submitter accepts jobs for the worker.
type Submitter interface {
	Submit(ctx context.Context, job worker.Job) (int, error)
	Len() int
}

// Router classifies inbound chat messages: commands are answered directly,
// everything else becomes a generation job.
type Router struct {
	adapter   telegraph.Adapter
	jobs      Submitter
	commands  *CommandHandler
	metrics   *metrics.Metrics
	botUserID string
	chunked   bool
	out       io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Adapter   telegraph.Adapter
	Jobs      Submitter
	Commands  *CommandHandler
	Metrics   *metrics.Metrics
	BotUserID string // bot's user ID for self-message filtering
	// DisableStreaming makes every job use chunked delivery.
	DisableStreaming bool
	Out              io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	if opts.Jobs == nil {
		return nil, fmt.Errorf("bot: router: job queue is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("bot: router: command handler is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		adapter:   opts.Adapter,
		jobs:      opts.Jobs,
		commands:  opts.Commands,
		metrics:   opts.Metrics,
		botUserID: opts.BotUserID,
		chunked:   opts.DisableStreaming,
		out:       out,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message or empty text → ignore
//  2. /nostream, /raw → job with the remaining text
//  3. Other known commands → direct reply
//  4. Everything else → streaming templated job
func (r *Router) Handle(ctx context.Context, msg telegraph.InboundMessage) {
	if r.botUserID != "" && msg.UserID == r.botUserID {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	fmt.Fprintf(r.out, "bot: router: recv [session=%s user=%s] %q\n",
		msg.SessionID(), msg.UserName, truncate(text, 80))

	cmd, rest, isCmd := parseCommand(text)
	if isCmd {
		switch cmd {
		case cmdNoStream, cmdRaw:
			if rest == "" {
				r.reply(ctx, msg, fmt.Sprintf("Usage: /%s <text>", cmd))
				return
			}
			mode := prompt.ModeTemplated
			if cmd == cmdRaw {
				mode = prompt.ModeRaw
			}
			r.enqueue(ctx, msg, rest, mode, cmd != cmdNoStream && !r.chunked)
			return
		}
		if reply, ok := r.commands.Execute(ctx, msg.SessionID(), cmd); ok {
			r.reply(ctx, msg, reply)
			return
		}
		// Unknown commands are ordinary prompts.
	}

	r.enqueue(ctx, msg, text, prompt.ModeTemplated, !r.chunked)
}

// enqueue posts the queued placeholder and submits the job. The placeholder
// shows the depth at the time of posting; once submitted, the worker owns
// the message.
func (r *Router) enqueue(ctx context.Context, msg telegraph.InboundMessage, input string, mode prompt.Mode, stream bool) {
	target := msg.ReplyTarget()
	placeholder := fmt.Sprintf("Queued (position %d)…", r.jobs.Len()+1)
	ref, err := r.adapter.Send(ctx, target.Reply(placeholder))
	if err != nil {
		// The worker will send the answer as a fresh reply instead.
		log.Printf("bot: router: send placeholder: %v", err)
	}
	target.Placeholder = ref

	job := worker.NewJob(msg.SessionID(), input, mode, stream, target)
	pos, err := r.jobs.Submit(ctx, job)
	if err != nil {
		text := busyText
		if errors.Is(err, queue.ErrClosed) {
			text = shutdownText
		} else {
			r.metrics.QueueRejected()
		}
		log.Printf("bot: router: submit job %s: %v", job.ID, err)
		r.replace(ctx, msg, ref, text)
		return
	}
	fmt.Fprintf(r.out, "bot: router: → job %s queued at %d [mode=%s stream=%t]\n", job.ID, pos, mode, stream)
}

// reply answers msg with text.
func (r *Router) reply(ctx context.Context, msg telegraph.InboundMessage, text string) {
	if _, err := r.adapter.Send(ctx, msg.ReplyTarget().Reply(text)); err != nil {
		log.Printf("bot: router: send reply: %v", err)
	}
}

// replace overwrites ref with text, or replies when there is no ref.
func (r *Router) replace(ctx context.Context, msg telegraph.InboundMessage, ref telegraph.MessageRef, text string) {
	if ref.IsZero() {
		r.reply(ctx, msg, text)
		return
	}
	if err := r.adapter.Edit(ctx, ref, text); err != nil {
		log.Printf("bot: router: edit placeholder: %v", err)
	}
}

// truncate returns s truncated to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
