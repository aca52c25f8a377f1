package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/llamagram/internal/bot"
	"github.com/zulandar/llamagram/internal/config"
	"github.com/zulandar/llamagram/internal/dashboard"
	"github.com/zulandar/llamagram/internal/history"
	"github.com/zulandar/llamagram/internal/llm"
	"github.com/zulandar/llamagram/internal/metrics"
	"github.com/zulandar/llamagram/internal/prompt"
	"github.com/zulandar/llamagram/internal/queue"
	"github.com/zulandar/llamagram/internal/worker"
)

// serveFlags override config values for one run.
type serveFlags struct {
	configPath   string
	model        string
	threads      int
	maxTokens    int
	noHistory    bool
	historyLimit int
	fastStart    bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot",
		Long:  "Connects to the configured chat platform and answers messages until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f.configPath)
			if err != nil {
				return err
			}
			if err := applyServeFlags(cmd, cfg, f); err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to llamagram config file")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model file or name (overrides engine.model)")
	cmd.Flags().IntVar(&f.threads, "threads", 0, "engine threads (overrides engine.threads)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum tokens to generate (overrides engine.max_tokens)")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "disable conversation history")
	cmd.Flags().IntVar(&f.historyLimit, "history-limit", 0, "prior turns injected into prompts (overrides history.limit)")
	cmd.Flags().BoolVar(&f.fastStart, "fast-start", false, "omit the instruction preamble")
	return cmd
}

// applyServeFlags copies explicitly set flags onto cfg and re-validates it.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, f serveFlags) error {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Engine.Model = f.model
	}
	if flags.Changed("threads") {
		cfg.Engine.Threads = f.threads
	}
	if flags.Changed("max-tokens") {
		cfg.Engine.MaxTokens = f.maxTokens
	}
	if flags.Changed("no-history") && f.noHistory {
		cfg.History.Enabled = false
	}
	if flags.Changed("history-limit") {
		cfg.History.Limit = f.historyLimit
	}
	if flags.Changed("fast-start") {
		cfg.Prompt.FastStart = f.fastStart
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	var store *history.Store
	if cfg.History.Enabled {
		s, err := openHistory(cfg)
		if err != nil {
			return err
		}
		store = s
		fmt.Fprintf(out, "History enabled (%s, last %d turns)\n", cfg.Storage.Driver, cfg.History.Limit)
	}

	// A typed nil *history.Store must not reach the interfaces below.
	var (
		reader   prompt.HistoryReader
		admin    bot.HistoryAdmin
		writer   worker.HistoryWriter
		histView dashboard.HistoryReader
	)
	if store != nil {
		reader, admin, writer, histView = store, store, store, store
	}

	builder, err := newBuilder(cfg, reader)
	if err != nil {
		return err
	}
	engine, err := llm.New(cfg.Engine)
	if err != nil {
		return err
	}
	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	jobs := queue.New[worker.Job](queueOpts(cfg.Queue))
	m.WatchQueue(jobs.Len)

	w, err := worker.New(worker.Opts{
		Engine:  engine,
		Builder: builder,
		Adapter: adapter,
		Source:  jobs,
		History: writer,
		Metrics: m,
		Sampling: worker.Sampling{
			MaxTokens:   cfg.Engine.MaxTokens,
			TopK:        cfg.Engine.TopK,
			TopP:        cfg.Engine.TopP,
			Temperature: cfg.Engine.Temperature,
		},
		MaxMessageLength:  cfg.Output.MaxMessageLength,
		RolloverThreshold: cfg.Output.RolloverThreshold,
		FlushInterval:     time.Duration(cfg.Output.FlushIntervalMs) * time.Millisecond,
		Out:               out,
	})
	if err != nil {
		return err
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		Adapter:          adapter,
		Jobs:             jobs,
		Worker:           w,
		History:          admin,
		Metrics:          m,
		Digest:           cfg.Digest,
		DisableStreaming: cfg.Output.DisableStreaming,
		Out:              out,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	gCtx, cancel := context.WithCancel(gCtx)
	defer cancel()
	g.Go(func() error {
		// The status server has nothing to report once the bot stops.
		defer cancel()
		return daemon.Run(gCtx)
	})
	if cfg.Status.Enabled {
		startedAt := time.Now()
		g.Go(func() error {
			return dashboard.Start(gCtx, dashboard.StartOpts{
				Status: func() dashboard.Snapshot {
					st := w.Stats()
					return dashboard.Snapshot{
						Platform:      cfg.Platform,
						Engine:        engine.Name(),
						QueueDepth:    jobs.Len(),
						QueueCapacity: jobs.Capacity(),
						Busy:          st.Busy,
						CurrentJob:    st.CurrentJob,
						Served:        st.Served,
						Failed:        st.Failed,
						StartedAt:     startedAt,
					}
				},
				History: histView,
				Metrics: m.Handler(),
				Port:    cfg.Status.Port,
				Out:     out,
			})
		})
	}
	return g.Wait()
}
