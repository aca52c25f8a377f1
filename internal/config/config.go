// Package config provides YAML-based configuration loading for llamagram.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
	PlatformDiscord  = "discord"
)

// Supported engine backends.
const (
	BackendLlamaCpp = "llamacpp"
	BackendOllama   = "ollama"
	BackendExec     = "exec"
)

// Queue admission policies.
const (
	PolicyReject = "reject"
	PolicyBlock  = "block"
)

// Environment variables that override secrets from the config file.
const (
	EnvTelegramToken = "LLAMAGRAM_TELEGRAM_TOKEN"
	EnvSlackAppToken = "LLAMAGRAM_SLACK_APP_TOKEN"
	EnvSlackBotToken = "LLAMAGRAM_SLACK_BOT_TOKEN"
	EnvDiscordToken  = "LLAMAGRAM_DISCORD_TOKEN"
)

// Config is the top-level llamagram configuration, loaded from llamagram.yaml.
type Config struct {
	Platform  string          `yaml:"platform"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Slack     SlackConfig     `yaml:"slack"`
	Discord   DiscordConfig   `yaml:"discord"`
	Engine    EngineConfig    `yaml:"engine"`
	Prompt    PromptConfig    `yaml:"prompt"`
	History   HistoryConfig   `yaml:"history"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Output    OutputConfig    `yaml:"output"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Status    StatusConfig    `yaml:"status"`
	Digest    DigestConfig    `yaml:"digest"`
}

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord Gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// EngineConfig selects and parameterizes the generation engine. Sampling
// parameters are fixed for the deployment; users cannot change them.
type EngineConfig struct {
	Backend     string  `yaml:"backend"`
	URL         string  `yaml:"url"`    // llamacpp / ollama server base URL
	Model       string  `yaml:"model"`  // model file (exec) or model name (ollama); not for llamacpp
	Binary      string  `yaml:"binary"` // exec backend binary
	Threads     int     `yaml:"threads"`
	ContextSize int     `yaml:"context_size"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopK        int     `yaml:"top_k"`
	TopP        float64 `yaml:"top_p"`
	Temperature float64 `yaml:"temperature"`
	Seed        int     `yaml:"seed"` // 0 picks a random seed per process
}

// PromptConfig defines the instruction template and role markers.
type PromptConfig struct {
	FastStart      bool   `yaml:"fast_start"` // omit the preamble
	Preamble       string `yaml:"preamble"`
	QuestionMarker string `yaml:"question_marker"`
	AnswerMarker   string `yaml:"answer_marker"`
	EndOfText      string `yaml:"end_of_text"`
	TurnSeparator  string `yaml:"turn_separator"`
}

// HistoryConfig controls conversational history injection.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"` // prior turns injected into a prompt; 0 injects none
}

// StorageConfig selects the history database.
type StorageConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig bounds the job queue. Capacity 0 means unbounded.
type QueueConfig struct {
	Capacity        int    `yaml:"capacity"`
	Policy          string `yaml:"policy"`
	BlockTimeoutSec int    `yaml:"block_timeout_sec"`
}

// OutputConfig holds the platform message limits used by the emitter.
type OutputConfig struct {
	DisableStreaming  bool `yaml:"disable_streaming"`
	MaxMessageLength  int  `yaml:"max_message_length"`
	RolloverThreshold int  `yaml:"rollover_threshold"`
	FlushIntervalMs   int  `yaml:"flush_interval_ms"`
}

// RateLimitConfig caps outbound platform calls.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// StatusConfig controls the HTTP status server.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DigestConfig controls the periodic usage digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Channel string `yaml:"channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
// Secrets found in the environment (or a .env file next to the working
// directory) take precedence over the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadEnvFile loads KEY=VALUE pairs from the given dotenv files into the
// process environment without overriding variables already set. Missing
// files are ignored.
func LoadEnvFile(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env %s: %w", p, err)
		}
	}
	return nil
}

// DefaultHistoryLimit is the number of prior turns injected when
// history.limit is not set.
const DefaultHistoryLimit = 5

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	// Seeded before unmarshalling so an explicit "limit: 0" is kept.
	cfg := Config{History: HistoryConfig{Limit: DefaultHistoryLimit}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(EnvSlackAppToken); v != "" {
		c.Slack.AppToken = v
	}
	if v := os.Getenv(EnvSlackBotToken); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv(EnvDiscordToken); v != "" {
		c.Discord.BotToken = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = PlatformTelegram
	}

	if c.Engine.Backend == "" {
		c.Engine.Backend = BackendLlamaCpp
	}
	if c.Engine.URL == "" {
		switch c.Engine.Backend {
		case BackendOllama:
			c.Engine.URL = "http://127.0.0.1:11434"
		case BackendLlamaCpp:
			c.Engine.URL = "http://127.0.0.1:8080"
		}
	}
	if c.Engine.Binary == "" && c.Engine.Backend == BackendExec {
		c.Engine.Binary = "llama-cli"
	}
	if c.Engine.Model == "" && c.Engine.Backend == BackendExec {
		c.Engine.Model = "ggml-model-q4_0.bin"
	}
	// llama-server owns its threads and context; the other backends
	// receive them per request.
	if c.Engine.Backend != BackendLlamaCpp {
		if c.Engine.Threads == 0 {
			c.Engine.Threads = 4
		}
		if c.Engine.ContextSize == 0 {
			c.Engine.ContextSize = 2048
		}
	}
	if c.Engine.MaxTokens == 0 {
		c.Engine.MaxTokens = 128
	}
	if c.Engine.TopK == 0 {
		c.Engine.TopK = 40
	}
	if c.Engine.TopP == 0 {
		c.Engine.TopP = 0.1
	}
	if c.Engine.Temperature == 0 {
		c.Engine.Temperature = 0.7
	}

	if c.Prompt.Preamble == "" {
		c.Prompt.Preamble = "A chat between a curious human and an artificial intelligence assistant. " +
			"The assistant gives helpful, detailed, and polite answers to the human's questions.\n"
	}
	if c.Prompt.QuestionMarker == "" {
		c.Prompt.QuestionMarker = "### Human: "
	}
	if c.Prompt.AnswerMarker == "" {
		c.Prompt.AnswerMarker = "### Assistant: "
	}
	if c.Prompt.EndOfText == "" {
		c.Prompt.EndOfText = "</s>"
	}
	if c.Prompt.TurnSeparator == "" {
		c.Prompt.TurnSeparator = "###"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "llamagram.db"
	}
	if c.Storage.Driver == "mysql" {
		if c.Storage.Host == "" {
			c.Storage.Host = "127.0.0.1"
		}
		if c.Storage.Port == 0 {
			c.Storage.Port = 3306
		}
		if c.Storage.User == "" {
			c.Storage.User = "root"
		}
		if c.Storage.Database == "" {
			c.Storage.Database = "llamagram"
		}
	}

	if c.Queue.Policy == "" {
		c.Queue.Policy = PolicyReject
	}
	if c.Queue.Policy == PolicyBlock && c.Queue.BlockTimeoutSec == 0 {
		c.Queue.BlockTimeoutSec = 10
	}

	maxLen, rollover := platformLimits(c.Platform)
	if c.Output.MaxMessageLength == 0 {
		c.Output.MaxMessageLength = maxLen
	}
	if c.Output.RolloverThreshold == 0 {
		c.Output.RolloverThreshold = rollover
		if rollover > c.Output.MaxMessageLength {
			c.Output.RolloverThreshold = c.Output.MaxMessageLength
		}
	}
	if c.Output.FlushIntervalMs == 0 {
		c.Output.FlushIntervalMs = 2000
	}

	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}

	if c.Status.Port == 0 {
		c.Status.Port = 9090
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 9 * * *"
	}
}

// platformLimits returns the hard message size and the streaming rollover
// threshold for a platform.
func platformLimits(platform string) (maxLen, rollover int) {
	switch platform {
	case PlatformDiscord:
		return 2000, 1900
	case PlatformSlack:
		return 4000, 3900
	default:
		return 4096, 4000
	}
}

// Validate re-checks c after it was changed in code, e.g. by CLI flag
// overrides. Parse already validates what it returns.
func (c *Config) Validate() error {
	return c.validate()
}

// serverSideFields names the set engine fields a llama.cpp server decides
// for itself.
func (e EngineConfig) serverSideFields() []string {
	var fields []string
	if e.Model != "" {
		fields = append(fields, "model")
	}
	if e.Threads != 0 {
		fields = append(fields, "threads")
	}
	if e.ContextSize != 0 {
		fields = append(fields, "context_size")
	}
	return fields
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Platform {
	case PlatformTelegram:
		if c.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required (or set "+EnvTelegramToken+")")
		}
	case PlatformSlack:
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
	case PlatformDiscord:
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported platform %q", c.Platform))
	}

	switch c.Engine.Backend {
	case BackendLlamaCpp:
		for _, field := range c.Engine.serverSideFields() {
			errs = append(errs, fmt.Sprintf("engine.%s is not supported by the llamacpp backend (configure llama-server instead)", field))
		}
	case BackendOllama:
		if c.Engine.Model == "" {
			errs = append(errs, "engine.model is required for the ollama backend")
		}
	case BackendExec:
	default:
		errs = append(errs, fmt.Sprintf("unsupported engine.backend %q", c.Engine.Backend))
	}
	if c.Engine.MaxTokens < 0 {
		errs = append(errs, "engine.max_tokens must be positive")
	}
	if c.Engine.TopP < 0 || c.Engine.TopP > 1 {
		errs = append(errs, "engine.top_p must be within [0, 1]")
	}

	if c.History.Limit < 0 {
		errs = append(errs, "history.limit must not be negative")
	}

	switch c.Storage.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported storage.driver %q", c.Storage.Driver))
	}

	if c.Queue.Capacity < 0 {
		errs = append(errs, "queue.capacity must not be negative")
	}
	if c.Queue.Policy != PolicyReject && c.Queue.Policy != PolicyBlock {
		errs = append(errs, fmt.Sprintf("unsupported queue.policy %q", c.Queue.Policy))
	}

	if c.Output.RolloverThreshold > c.Output.MaxMessageLength {
		errs = append(errs, "output.rollover_threshold must not exceed output.max_message_length")
	}
	if c.Output.RolloverThreshold <= 0 {
		errs = append(errs, "output.rollover_threshold must be positive")
	}

	if c.Digest.Enabled && c.Digest.Channel == "" {
		errs = append(errs, "digest.channel is required when the digest is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
