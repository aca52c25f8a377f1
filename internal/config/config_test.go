package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
platform: discord
discord:
  bot_token: disc-token

engine:
  backend: ollama
  url: http://gpu-box:11434
  model: llama2:7b
  threads: 8
  context_size: 4096
  max_tokens: 256
  top_k: 20
  top_p: 0.5
  temperature: 0.2

prompt:
  fast_start: true
  question_marker: "Q: "
  answer_marker: "A: "

history:
  enabled: true
  limit: 3

storage:
  driver: mysql
  host: 10.0.0.5
  database: bot

queue:
  capacity: 10
  policy: block
  block_timeout_sec: 3

output:
  flush_interval_ms: 500

status:
  enabled: true
  port: 9191

digest:
  enabled: true
  cron: "30 8 * * 1"
  channel: "1234"
`

const minimalYAML = `
telegram:
  token: tg-token
`

// clearEnv unsets the secret overrides for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvTelegramToken, EnvSlackAppToken, EnvSlackBotToken, EnvDiscordToken} {
		t.Setenv(k, "")
	}
}

func TestParse_FullConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Platform != PlatformDiscord {
		t.Errorf("Platform = %q, want %q", cfg.Platform, PlatformDiscord)
	}
	if cfg.Discord.BotToken != "disc-token" {
		t.Errorf("Discord.BotToken = %q, want disc-token", cfg.Discord.BotToken)
	}
	if cfg.Engine.Backend != BackendOllama || cfg.Engine.Model != "llama2:7b" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Engine.Threads != 8 || cfg.Engine.ContextSize != 4096 || cfg.Engine.MaxTokens != 256 {
		t.Errorf("Engine sizing = %+v", cfg.Engine)
	}
	if cfg.Engine.TopK != 20 || cfg.Engine.TopP != 0.5 || cfg.Engine.Temperature != 0.2 {
		t.Errorf("Engine sampling = %+v", cfg.Engine)
	}
	if !cfg.Prompt.FastStart {
		t.Error("Prompt.FastStart = false, want true")
	}
	if cfg.Prompt.QuestionMarker != "Q: " || cfg.Prompt.AnswerMarker != "A: " {
		t.Errorf("Prompt markers = %q / %q", cfg.Prompt.QuestionMarker, cfg.Prompt.AnswerMarker)
	}
	if !cfg.History.Enabled || cfg.History.Limit != 3 {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.Storage.Driver != "mysql" || cfg.Storage.Port != 3306 || cfg.Storage.User != "root" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Queue.Capacity != 10 || cfg.Queue.Policy != PolicyBlock || cfg.Queue.BlockTimeoutSec != 3 {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Output.MaxMessageLength != 2000 || cfg.Output.RolloverThreshold != 1900 {
		t.Errorf("Output limits = %d/%d, want 2000/1900 for discord",
			cfg.Output.MaxMessageLength, cfg.Output.RolloverThreshold)
	}
	if cfg.Output.FlushIntervalMs != 500 {
		t.Errorf("Output.FlushIntervalMs = %d, want 500", cfg.Output.FlushIntervalMs)
	}
	if !cfg.Status.Enabled || cfg.Status.Port != 9191 {
		t.Errorf("Status = %+v", cfg.Status)
	}
	if cfg.Digest.Cron != "30 8 * * 1" || cfg.Digest.Channel != "1234" {
		t.Errorf("Digest = %+v", cfg.Digest)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Platform != PlatformTelegram {
		t.Errorf("Platform = %q, want telegram (default)", cfg.Platform)
	}
	if cfg.Engine.Backend != BackendLlamaCpp {
		t.Errorf("Engine.Backend = %q, want llamacpp (default)", cfg.Engine.Backend)
	}
	if cfg.Engine.URL != "http://127.0.0.1:8080" {
		t.Errorf("Engine.URL = %q (default)", cfg.Engine.URL)
	}
	if cfg.Engine.Threads != 0 || cfg.Engine.ContextSize != 0 {
		t.Errorf("llamacpp got threads/context defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.MaxTokens != 128 || cfg.Engine.TopK != 40 || cfg.Engine.TopP != 0.1 || cfg.Engine.Temperature != 0.7 {
		t.Errorf("Engine defaults = %+v", cfg.Engine)
	}
	if cfg.Prompt.QuestionMarker != "### Human: " {
		t.Errorf("QuestionMarker = %q", cfg.Prompt.QuestionMarker)
	}
	if cfg.Prompt.AnswerMarker != "### Assistant: " {
		t.Errorf("AnswerMarker = %q", cfg.Prompt.AnswerMarker)
	}
	if cfg.Prompt.Preamble == "" {
		t.Error("Preamble should default to the instruction text")
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled should default to false")
	}
	if cfg.History.Limit != 5 {
		t.Errorf("History.Limit = %d, want 5", cfg.History.Limit)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "llamagram.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Queue.Capacity != 0 || cfg.Queue.Policy != PolicyReject {
		t.Errorf("Queue = %+v, want unbounded/reject", cfg.Queue)
	}
	if cfg.Output.MaxMessageLength != 4096 || cfg.Output.RolloverThreshold != 4000 {
		t.Errorf("Output limits = %d/%d, want 4096/4000",
			cfg.Output.MaxMessageLength, cfg.Output.RolloverThreshold)
	}
	if cfg.Output.FlushIntervalMs != 2000 {
		t.Errorf("FlushIntervalMs = %d, want 2000", cfg.Output.FlushIntervalMs)
	}
}

func TestParse_ExplicitZeroHistoryLimit(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML + "history:\n  enabled: true\n  limit: 0\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.History.Limit != 0 {
		t.Errorf("History.Limit = %d, want explicit 0 kept", cfg.History.Limit)
	}

	cfg, err = Parse([]byte(minimalYAML + "history:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.History.Limit != DefaultHistoryLimit {
		t.Errorf("History.Limit = %d, want default %d", cfg.History.Limit, DefaultHistoryLimit)
	}
}

func TestParse_EnvOverridesToken(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvTelegramToken, "from-env")

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("Telegram.Token = %q, want from-env", cfg.Telegram.Token)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing telegram token", "platform: telegram\n", "telegram.token is required"},
		{"missing slack tokens", "platform: slack\n", "slack.app_token is required"},
		{"unknown platform", "platform: irc\n", `unsupported platform "irc"`},
		{"unknown backend", "telegram: {token: x}\nengine: {backend: gpt}\n", `unsupported engine.backend "gpt"`},
		{"ollama without model", "telegram: {token: x}\nengine: {backend: ollama}\n", "engine.model is required"},
		{"bad policy", "telegram: {token: x}\nqueue: {policy: drop}\n", `unsupported queue.policy "drop"`},
		{"rollover over limit", "telegram: {token: x}\noutput: {max_message_length: 100, rollover_threshold: 200}\n", "rollover_threshold must not exceed"},
		{"digest without channel", "telegram: {token: x}\ndigest: {enabled: true}\n", "digest.channel is required"},
		{"bad driver", "telegram: {token: x}\nstorage: {driver: pebble}\n", `unsupported storage.driver "pebble"`},
		{"llamacpp threads", "telegram: {token: x}\nengine: {threads: 8}\n", "engine.threads is not supported by the llamacpp backend"},
		{"llamacpp context", "telegram: {token: x}\nengine: {backend: llamacpp, context_size: 4096}\n", "engine.context_size is not supported"},
		{"llamacpp model", "telegram: {token: x}\nengine: {model: 7b.gguf}\n", "engine.model is not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidate_AfterOverride(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate on parsed config: %v", err)
	}
	cfg.Engine.Threads = 8
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "engine.threads") {
		t.Errorf("Validate = %v, want engine.threads rejected for llamacpp", err)
	}
}

func TestParse_ExecBackendDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML + "engine:\n  backend: exec\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Engine.Threads != 4 || cfg.Engine.ContextSize != 2048 || cfg.Engine.Model == "" {
		t.Errorf("exec defaults = %+v", cfg.Engine)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("platform: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want config: parse prefix", err.Error())
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "llamagram.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tg-token" {
		t.Errorf("Telegram.Token = %q", cfg.Telegram.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(EnvDiscordToken+"=dotenv-token\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already present, so make
	// sure this one is absent rather than empty.
	os.Unsetenv(EnvDiscordToken)
	t.Cleanup(func() { os.Unsetenv(EnvDiscordToken) })

	if err := LoadEnvFile(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	cfg, err := Parse([]byte("platform: discord\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.BotToken != "dotenv-token" {
		t.Errorf("Discord.BotToken = %q, want dotenv-token", cfg.Discord.BotToken)
	}
}
