// Package worker runs generation jobs one at a time against the engine
// and delivers the answers to chat.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/llamagram/internal/emitter"
	"github.com/zulandar/llamagram/internal/fault"
	"github.com/zulandar/llamagram/internal/llm"
	"github.com/zulandar/llamagram/internal/metrics"
	"github.com/zulandar/llamagram/internal/prompt"
	"github.com/zulandar/llamagram/internal/telegraph"
)

const (
	generatingText = "Generating…"
	noOutputText   = "(no output)"
)

// JobSource yields jobs in submission order.
type JobSource interface {
	Take(ctx context.Context) (Job, error)
}

// PromptBuilder turns a job's input into the engine prompt.
type PromptBuilder interface {
	Build(ctx context.Context, sessionID, input string, mode prompt.Mode) (string, error)
	StopSequences() []string
}

// HistoryWriter records completed turns.
type HistoryWriter interface {
	Append(ctx context.Context, sessionID, userPrompt, answer string) error
}

// Sampling holds the fixed generation parameters.
type Sampling struct {
	MaxTokens   int
	TopK        int
	TopP        float64
	Temperature float64
}

// Opts holds parameters for creating a Worker.
type Opts struct {
	Engine  llm.Engine
	Builder PromptBuilder
	Adapter telegraph.Adapter
	Source  JobSource     // required by Run only
	History HistoryWriter // optional; nil disables persistence
	Metrics *metrics.Metrics

	Sampling          Sampling
	MaxMessageLength  int           // chunk size for non-streaming replies
	RolloverThreshold int           // segment size for streaming replies
	FlushInterval     time.Duration // minimum time between streaming edits
	Out               io.Writer     // defaults to os.Stdout
}

// Stats is a point-in-time view of the worker.
type Stats struct {
	Served     uint64
	Failed     uint64
	Busy       bool
	CurrentJob string
}

// Worker is the single consumer of the job queue and the only caller of
// the engine.
type Worker struct {
	engine  llm.Engine
	builder PromptBuilder
	adapter telegraph.Adapter
	source  JobSource
	history HistoryWriter
	metrics *metrics.Metrics

	sampling  Sampling
	maxLen    int
	threshold int
	interval  time.Duration
	out       io.Writer

	served atomic.Uint64
	failed atomic.Uint64

	mu      sync.Mutex
	current uuid.UUID
}

// New creates a Worker.
func New(opts Opts) (*Worker, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("worker: engine is required")
	}
	if opts.Builder == nil {
		return nil, fmt.Errorf("worker: prompt builder is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("worker: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	maxLen := opts.MaxMessageLength
	if maxLen <= 0 {
		maxLen = 4096
	}
	threshold := opts.RolloverThreshold
	if threshold <= 0 || threshold > maxLen {
		threshold = maxLen
	}
	return &Worker{
		engine:    opts.Engine,
		builder:   opts.Builder,
		adapter:   opts.Adapter,
		source:    opts.Source,
		history:   opts.History,
		metrics:   opts.Metrics,
		sampling:  opts.Sampling,
		maxLen:    maxLen,
		threshold: threshold,
		interval:  opts.FlushInterval,
		out:       out,
	}, nil
}

// Run takes jobs from the source and processes them one at a time until
// ctx is cancelled or the source is closed. A failing job never stops the
// loop.
func (w *Worker) Run(ctx context.Context) error {
	if w.source == nil {
		return fmt.Errorf("worker: job source is required")
	}
	fmt.Fprintf(w.out, "Worker started (engine %s)\n", w.engine.Name())
	for {
		job, err := w.source.Take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintf(w.out, "Worker stopped\n")
				return nil
			}
			fmt.Fprintf(w.out, "Worker stopped: %v\n", err)
			return nil
		}
		w.Process(ctx, job)
	}
}

// Stats returns the worker's counters and current job.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	current := w.current
	w.mu.Unlock()
	st := Stats{
		Served: w.served.Load(),
		Failed: w.failed.Load(),
	}
	if current != uuid.Nil {
		st.Busy = true
		st.CurrentJob = current.String()
	}
	return st
}

// Process runs one job to completion. Every failure is reported to the
// user where possible and returned in the Outcome; nothing propagates.
func (w *Worker) Process(ctx context.Context, job Job) Outcome {
	start := time.Now()
	w.setCurrent(job.ID)
	defer w.setCurrent(uuid.Nil)

	log.Printf("worker: job %s [session=%s mode=%s stream=%t waited=%s]",
		job.ID, job.SessionID, job.Mode, job.Stream, start.Sub(job.SubmittedAt).Round(time.Millisecond))

	w.announce(ctx, job)

	text, err := w.builder.Build(ctx, job.SessionID, job.Input, job.Mode)
	if err != nil {
		// Build still returns a usable prompt without history.
		log.Printf("worker: job %s: %v", job.ID, err)
	}
	req := llm.Request{
		Prompt:      text,
		MaxTokens:   w.sampling.MaxTokens,
		TopK:        w.sampling.TopK,
		TopP:        w.sampling.TopP,
		Temperature: w.sampling.Temperature,
		Stop:        w.builder.StopSequences(),
	}

	var out Outcome
	if job.Stream {
		out = w.generateStreaming(ctx, job, req)
	} else {
		out = w.generateChunked(ctx, job, req)
	}
	out.JobID = job.ID

	if out.Kind == fault.None || out.Kind == fault.Delivery {
		// The answer exists even if showing it failed.
		out.Persisted = w.persist(ctx, job, out.Answer)
	}

	out.Elapsed = time.Since(start)
	if out.OK() {
		w.served.Add(1)
	} else {
		w.failed.Add(1)
		log.Printf("worker: job %s failed: %v", job.ID, out.Err)
	}
	w.metrics.ObserveJob(out.Kind, out.Elapsed)
	return out
}

func (w *Worker) generateStreaming(ctx context.Context, job Job, req llm.Request) Outcome {
	stream := emitter.NewStream(emitter.StreamOpts{
		Adapter:           w.adapter,
		Target:            job.Target,
		RolloverThreshold: w.threshold,
		FlushInterval:     w.interval,
		EmptyText:         noOutputText,
	})

	genErr := w.engine.Stream(ctx, req, func(token string) error {
		return stream.Write(ctx, token)
	})
	answer := stream.Text()

	if genErr != nil {
		genErr = llm.Classify(genErr)
		if answer == "" {
			w.reportFailure(ctx, job, genErr, true)
		} else {
			if err := stream.Close(ctx); err != nil {
				log.Printf("worker: job %s: flush partial answer: %v", job.ID, err)
			}
			w.reportFailure(ctx, job, genErr, false)
		}
		w.metrics.ObserveStream(stream.Stats())
		return Outcome{Answer: answer, Kind: fault.KindOf(genErr), Err: genErr}
	}

	closeErr := stream.Close(ctx)
	w.metrics.ObserveStream(stream.Stats())
	if closeErr != nil {
		return Outcome{Answer: answer, Kind: fault.Delivery, Err: closeErr}
	}
	return Outcome{Answer: answer}
}

func (w *Worker) generateChunked(ctx context.Context, job Job, req llm.Request) Outcome {
	answer, err := w.engine.Complete(ctx, req)
	if err != nil {
		err = llm.Classify(err)
		w.reportFailure(ctx, job, err, true)
		return Outcome{Kind: fault.KindOf(err), Err: err}
	}

	text := answer
	if strings.TrimSpace(text) == "" {
		text = noOutputText
	}
	if _, err := emitter.DeliverChunks(ctx, w.adapter, job.Target, text, w.maxLen); err != nil {
		return Outcome{Answer: answer, Kind: fault.Delivery, Err: err}
	}

	if ph := job.Target.Placeholder; !ph.IsZero() {
		if err := w.adapter.Delete(ctx, ph); err != nil {
			log.Printf("worker: job %s: delete placeholder: %v", job.ID, err)
		}
	}
	return Outcome{Answer: answer}
}

// announce marks the job as started: the placeholder switches to the
// generating text and a typing indicator is shown. Both are best effort.
func (w *Worker) announce(ctx context.Context, job Job) {
	if ph := job.Target.Placeholder; !ph.IsZero() {
		if err := w.adapter.Edit(ctx, ph, generatingText); err != nil {
			log.Printf("worker: job %s: edit placeholder: %v", job.ID, err)
		}
	}
	if typer, ok := w.adapter.(telegraph.Typer); ok {
		if err := typer.Typing(ctx, job.Target.ChannelID); err != nil {
			log.Printf("worker: job %s: typing: %v", job.ID, err)
		}
	}
}

// reportFailure tells the user a job failed. With usePlaceholder the
// placeholder is overwritten with the report; otherwise, or if that edit
// fails, the report is sent as a new reply.
func (w *Worker) reportFailure(ctx context.Context, job Job, err error, usePlaceholder bool) {
	text := FailureText(err)
	if ph := job.Target.Placeholder; usePlaceholder && !ph.IsZero() {
		if editErr := w.adapter.Edit(ctx, ph, text); editErr == nil {
			return
		}
	}
	if _, sendErr := w.adapter.Send(ctx, job.Target.Reply(text)); sendErr != nil {
		log.Printf("worker: job %s: report failure: %v", job.ID, sendErr)
	}
}

// FailureText is the user-facing report for a failed generation.
func FailureText(err error) string {
	cause := err
	var fe *fault.Error
	if errors.As(err, &fe) {
		cause = fe.Err
	}
	if fault.Is(err, fault.EngineFailure) {
		return fmt.Sprintf("System error: %v", cause)
	}
	return fmt.Sprintf("Error: %v", cause)
}

// persist records the turn unless the job was raw or produced nothing.
// Failures are logged and otherwise ignored.
func (w *Worker) persist(ctx context.Context, job Job, answer string) bool {
	if w.history == nil || job.Mode == prompt.ModeRaw || strings.TrimSpace(answer) == "" {
		return false
	}
	if err := w.history.Append(ctx, job.SessionID, job.Input, answer); err != nil {
		log.Printf("worker: job %s: persist turn: %v", job.ID, err)
		return false
	}
	return true
}

func (w *Worker) setCurrent(id uuid.UUID) {
	w.mu.Lock()
	w.current = id
	w.mu.Unlock()
}
