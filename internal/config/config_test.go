package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("Listen.Port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Session.Timeout() != 5*time.Minute {
		t.Errorf("Session.Timeout() = %v, want 5m", cfg.Session.Timeout())
	}
	if cfg.Session.CleanupInterval() != 30*time.Minute {
		t.Errorf("Session.CleanupInterval() = %v, want 30m", cfg.Session.CleanupInterval())
	}
	if cfg.Session.HistoryPairs != 5 {
		t.Errorf("Session.HistoryPairs = %d, want 5", cfg.Session.HistoryPairs)
	}
	if cfg.Escalation.CooldownMinutes != 5 || cfg.Escalation.MaxEntries != 1000 || cfg.Escalation.MaxAgeHours != 24 {
		t.Errorf("escalation defaults = %+v", cfg.Escalation)
	}
	if cfg.Escalation.Slack.Channel != "#support-escalations" {
		t.Errorf("Slack.Channel = %q", cfg.Escalation.Slack.Channel)
	}
	if cfg.Models.Knowledge != cfg.Models.Router || cfg.Models.Support != cfg.Models.Router {
		t.Errorf("stage models should inherit router model: %+v", cfg.Models)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("SWITCHBOARD_TEST_KEY", "sk-ant-secret")
	cfg, err := Load(writeConfig(t, "anthropic:\n  api_key: ${SWITCHBOARD_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-secret" {
		t.Errorf("api_key = %q, want %q", cfg.Anthropic.APIKey, "sk-ant-secret")
	}
	if !cfg.Anthropic.Configured() {
		t.Error("Anthropic.Configured() = false, want true")
	}
}

func TestLoad_ModelProviderDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, "models:\n  available:\n    - name: qwen3:4b\n    - name: claude-sonnet-4-20250514\n      provider: anthropic\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := cfg.Models.Available[0].Provider; got != "ollama" {
		t.Errorf("provider = %q, want ollama", got)
	}
	if got := cfg.Models.Available[1].Provider; got != "anthropic" {
		t.Errorf("provider = %q, want anthropic", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "log level", body: "log_level: loud\n"},
		{name: "log format", body: "log_format: xml\n"},
		{name: "search provider", body: "search:\n  primary: altavista\n"},
		{name: "model provider", body: "models:\n  available:\n    - name: x\n      provider: openai\n"},
		{name: "negative session", body: "session:\n  history_pairs: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatalf("Load(%q) should fail", tt.body)
			}
		})
	}
}

func TestNotifierConfigured(t *testing.T) {
	var e EscalationConfig
	if e.Slack.Configured() || e.MQTT.Configured() || e.GitHub.Configured() || e.Email.Configured() {
		t.Fatal("zero-value notifier configs should not be configured")
	}
	e.GitHub = GitHubConfig{Token: "t"}
	if e.GitHub.Configured() {
		t.Error("GitHub without repo should not be configured")
	}
	e.Email = EmailConfig{Host: "smtp.example.com", From: "bot@example.com", To: []string{"ops@example.com"}}
	if !e.Email.Configured() {
		t.Error("Email with host, from and to should be configured")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "INFO", want: slog.LevelInfo},
		{in: " trace ", want: LevelTrace},
		{in: "debug", want: slog.LevelDebug},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if got := a.Value.String(); got != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", got)
	}

	a = ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelDebug))
	if got := a.Value.Any().(slog.Level); got != slog.LevelDebug {
		t.Errorf("debug level changed to %v", got)
	}
}
