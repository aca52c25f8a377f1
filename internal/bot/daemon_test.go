package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/llamagram/internal/config"
	"github.com/zulandar/llamagram/internal/llm"
	"github.com/zulandar/llamagram/internal/prompt"
	"github.com/zulandar/llamagram/internal/queue"
	"github.com/zulandar/llamagram/internal/telegraph"
	"github.com/zulandar/llamagram/internal/worker"
)

type echoEngine struct{ answer string }

func (e echoEngine) Complete(ctx context.Context, req llm.Request) (string, error) {
	return e.answer, nil
}

func (e echoEngine) Stream(ctx context.Context, req llm.Request, fn llm.TokenFunc) error {
	return fn(e.answer)
}

func (e echoEngine) Name() string { return "echo" }

// syncBuffer is an io.Writer safe for the daemon and test goroutines.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newTestDaemon(t *testing.T, adapter telegraph.Adapter, answer string, out *syncBuffer) *Daemon {
	t.Helper()
	q := queue.New[worker.Job](queue.Opts{})
	builder, err := prompt.NewBuilder(prompt.BuilderOpts{
		Template: prompt.Template{QuestionMarker: "Q: ", AnswerMarker: "A: "},
	})
	if err != nil {
		t.Fatal(err)
	}
	w, err := worker.New(worker.Opts{
		Engine:  echoEngine{answer: answer},
		Builder: builder,
		Adapter: adapter,
		Source:  q,
		Out:     out,
	})
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDaemon(DaemonOpts{Adapter: adapter, Jobs: q, Worker: w, History: &stubHistory{}, Out: out})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	return d
}

func TestNewDaemon_Validation(t *testing.T) {
	adapter := telegraph.NewMockAdapter()
	q := queue.New[worker.Job](queue.Opts{})
	tests := []struct {
		name string
		opts DaemonOpts
		want string
	}{
		{"no adapter", DaemonOpts{Jobs: q}, "adapter is required"},
		{"no queue", DaemonOpts{Adapter: adapter}, "job queue is required"},
		{"no worker", DaemonOpts{Adapter: adapter, Jobs: q}, "worker is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDaemon(tt.opts); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNewDaemon_DigestNeedsChannel(t *testing.T) {
	out := &syncBuffer{}
	adapter := telegraph.NewMockAdapter()
	d := newTestDaemon(t, adapter, "x", out)
	_, err := NewDaemon(DaemonOpts{
		Adapter: adapter, Jobs: d.jobs, Worker: d.worker,
		Digest: config.DigestConfig{Enabled: true, Cron: "0 9 * * *"},
	})
	if err == nil || !strings.Contains(err.Error(), "digest channel is required") {
		t.Errorf("err = %v", err)
	}
}

func TestDaemon_AnswersAndShutsDown(t *testing.T) {
	out := &syncBuffer{}
	adapter := telegraph.NewMockAdapter()
	d := newTestDaemon(t, adapter, "4", out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return strings.Contains(out.String(), "Bot online") })
	adapter.SimulateInbound(telegraph.InboundMessage{
		Platform: "telegram", ChannelID: "42", MessageID: "7", UserID: "u-1", Text: "2+2?",
	})
	waitFor(t, func() bool {
		text, _ := adapter.Text("m-1")
		return text == "4"
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if adapter.SentCount() != 1 {
		t.Errorf("SentCount = %d, want 1", adapter.SentCount())
	}
	logs := out.String()
	for _, want := range []string{"Bot connecting...", "Worker started (engine echo)", "Bot stopped"} {
		if !strings.Contains(logs, want) {
			t.Errorf("output missing %q:\n%s", want, logs)
		}
	}
	if _, err := d.jobs.Submit(context.Background(), worker.Job{}); err != queue.ErrClosed {
		t.Errorf("Submit after shutdown = %v, want ErrClosed", err)
	}
}

func TestDaemon_StopsWhenInboundCloses(t *testing.T) {
	out := &syncBuffer{}
	adapter := telegraph.NewMockAdapter()
	d := newTestDaemon(t, adapter, "x", out)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	waitFor(t, func() bool { return strings.Contains(out.String(), "Bot online") })

	adapter.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after inbound closed")
	}
	if !strings.Contains(out.String(), "inbound channel closed") {
		t.Errorf("output = %s", out.String())
	}
}

func TestDaemon_FireDigest(t *testing.T) {
	out := &syncBuffer{}
	adapter := telegraph.NewMockAdapter()
	adapter.Connect(context.Background())
	d := newTestDaemon(t, adapter, "x", out)
	d.digest = config.DigestConfig{Enabled: true, Cron: "0 9 * * *", Channel: "ops"}

	served := worker.Stats{}
	dg := newDigester(func() worker.Stats { return served }, d.jobs.Len, time.Now())

	d.fireDigest(context.Background(), dg, time.Now())
	if adapter.SentCount() != 0 {
		t.Fatal("digest sent with no activity")
	}

	served = worker.Stats{Served: 2}
	d.fireDigest(context.Background(), dg, time.Now())
	last, ok := adapter.LastSent()
	if !ok || last.ChannelID != "ops" || !strings.Contains(last.Text, "Answered: 2") {
		t.Errorf("digest = %+v", last)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
