// Package bot connects a chat platform to the generation worker: it routes
// inbound messages to commands or the job queue, runs the worker and posts
// scheduled activity digests.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/zulandar/llamagram/internal/config"
	"github.com/zulandar/llamagram/internal/metrics"
	"github.com/zulandar/llamagram/internal/queue"
	"github.com/zulandar/llamagram/internal/telegraph"
	"github.com/zulandar/llamagram/internal/worker"
)

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter, pumps inbound messages to the router and runs the worker that
// drains the job queue.
type Daemon struct {
	adapter telegraph.Adapter
	jobs    *queue.Queue[worker.Job]
	worker  *worker.Worker
	history HistoryAdmin
	metrics *metrics.Metrics
	digest  config.DigestConfig
	chunked bool
	out     io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter telegraph.Adapter
	Jobs    *queue.Queue[worker.Job]
	Worker  *worker.Worker // must consume Jobs
	History HistoryAdmin   // optional; enables /reset and /history
	Metrics *metrics.Metrics
	Digest  config.DigestConfig
	// DisableStreaming delivers every answer in chunks, as /nostream does.
	DisableStreaming bool
	Out              io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	if opts.Jobs == nil {
		return nil, fmt.Errorf("bot: job queue is required")
	}
	if opts.Worker == nil {
		return nil, fmt.Errorf("bot: worker is required")
	}
	if opts.Digest.Enabled && opts.Digest.Channel == "" {
		return nil, fmt.Errorf("bot: digest channel is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		adapter: opts.Adapter,
		jobs:    opts.Jobs,
		worker:  opts.Worker,
		history: opts.History,
		metrics: opts.Metrics,
		digest:  opts.Digest,
		chunked: opts.DisableStreaming,
		out:     out,
	}, nil
}

// Run connects the adapter, starts the worker and the digest scheduler, and
// routes inbound messages until ctx is cancelled or the adapter's inbound
// channel closes. On the way out it stops accepting jobs, waits for the
// worker and closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Bot connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(telegraph.BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	commands, err := NewCommandHandler(CommandHandlerOpts{
		History:    d.history,
		QueueDepth: d.jobs.Len,
		Capacity:   d.jobs.Capacity(),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build command handler: %w", err)
	}
	router, err := NewRouter(RouterOpts{
		Adapter:          d.adapter,
		Jobs:             d.jobs,
		Commands:         commands,
		Metrics:          d.metrics,
		BotUserID:        botUserID,
		DisableStreaming: d.chunked,
		Out:              d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := d.worker.Run(workerCtx); err != nil {
			log.Printf("bot: worker: %v", err)
		}
	}()

	if d.digest.Enabled {
		go d.runDigestScheduler(ctx)
	}

	fmt.Fprintf(d.out, "Bot online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Bot shutting down...\n")
			d.shutdown(stopWorker, workerDone)
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Bot inbound channel closed\n")
				d.shutdown(stopWorker, workerDone)
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}

func (d *Daemon) shutdown(stopWorker context.CancelFunc, workerDone <-chan struct{}) {
	d.jobs.Close()
	stopWorker()
	<-workerDone
	if err := d.adapter.Close(); err != nil {
		log.Printf("bot: close adapter: %v", err)
	}
	fmt.Fprintf(d.out, "Bot stopped\n")
}
