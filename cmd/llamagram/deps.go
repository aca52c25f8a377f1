package main

import (
	"fmt"
	"time"

	"github.com/zulandar/llamagram/internal/config"
	"github.com/zulandar/llamagram/internal/db"
	"github.com/zulandar/llamagram/internal/history"
	"github.com/zulandar/llamagram/internal/prompt"
	"github.com/zulandar/llamagram/internal/queue"
	"github.com/zulandar/llamagram/internal/telegraph"
	discordadapter "github.com/zulandar/llamagram/internal/telegraph/discord"
	slackadapter "github.com/zulandar/llamagram/internal/telegraph/slack"
	telegramadapter "github.com/zulandar/llamagram/internal/telegraph/telegram"
)

// loadConfig loads .env (if present) and then the YAML config.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openHistory connects to the configured database, migrates it and returns
// the history store.
func openHistory(cfg *config.Config) (*history.Store, error) {
	gormDB, err := db.Connect(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return history.NewStore(gormDB)
}

// newBuilder builds the prompt builder described by cfg. reader may be nil
// when history is disabled.
func newBuilder(cfg *config.Config, reader prompt.HistoryReader) (*prompt.Builder, error) {
	return prompt.NewBuilder(prompt.BuilderOpts{
		Template: prompt.Template{
			Preamble:       cfg.Prompt.Preamble,
			QuestionMarker: cfg.Prompt.QuestionMarker,
			AnswerMarker:   cfg.Prompt.AnswerMarker,
			EndOfText:      cfg.Prompt.EndOfText,
			TurnSeparator:  cfg.Prompt.TurnSeparator,
		},
		FastStart:      cfg.Prompt.FastStart,
		History:        reader,
		HistoryEnabled: cfg.History.Enabled && reader != nil,
		HistoryLimit:   cfg.History.Limit,
	})
}

// queueOpts maps the queue section onto queue options.
func queueOpts(cfg config.QueueConfig) queue.Opts {
	policy := queue.Reject
	if cfg.Policy == config.PolicyBlock {
		policy = queue.Block
	}
	return queue.Opts{
		Capacity:     cfg.Capacity,
		Policy:       policy,
		BlockTimeout: time.Duration(cfg.BlockTimeoutSec) * time.Second,
	}
}

// createAdapter builds the platform adapter from the config, wrapped in the
// outbound rate limiter.
func createAdapter(cfg *config.Config) (telegraph.Adapter, error) {
	var (
		a   telegraph.Adapter
		err error
	)
	switch cfg.Platform {
	case config.PlatformTelegram:
		a, err = telegramadapter.New(telegramadapter.AdapterOpts{Token: cfg.Telegram.Token})
	case config.PlatformSlack:
		a, err = slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	case config.PlatformDiscord:
		a, err = discordadapter.New(discordadapter.AdapterOpts{BotToken: cfg.Discord.BotToken})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
	if err != nil {
		return nil, err
	}
	return telegraph.NewThrottle(a, cfg.RateLimit.PerSecond, cfg.RateLimit.Burst), nil
}
