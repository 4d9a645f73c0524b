// Package config handles Switchboard configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/switchboard/internal/search"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit -config path is given: ./config.yaml,
// ~/.config/switchboard/config.yaml, /etc/switchboard/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "switchboard", "config.yaml"))
	}

	paths = append(paths, "/etc/switchboard/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Switchboard configuration.
type Config struct {
	Listen     ListenConfig            `yaml:"listen"`
	Models     ModelsConfig            `yaml:"models"`
	Anthropic  AnthropicConfig         `yaml:"anthropic"`
	Ark        ArkConfig               `yaml:"ark"`
	Embeddings EmbeddingsConfig        `yaml:"embeddings"`
	Search     SearchConfig            `yaml:"search"`
	Session    SessionConfig           `yaml:"session"`
	Guardrails GuardrailsConfig        `yaml:"guardrails"`
	Escalation EscalationConfig        `yaml:"escalation"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
	DataDir    string                  `yaml:"data_dir"`
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects the model used by each pipeline stage and maps
// model names to providers.
type ModelsConfig struct {
	Router    string        `yaml:"router"`
	Knowledge string        `yaml:"knowledge"`
	Support   string        `yaml:"support"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a single model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, ark
}

// PricingEntry is the per-million-token price of one model. Models
// without an entry are treated as free.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an Anthropic API key is set.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// ArkConfig defines Volcengine Ark settings for the eino-backed provider.
type ArkConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Region  string `yaml:"region"`
	Model   string `yaml:"model"` // Ark endpoint id
}

// Configured reports whether Ark credentials and a model are set.
func (c ArkConfig) Configured() bool { return c.APIKey != "" && c.Model != "" }

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // e.g. nomic-embed-text
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// SearchConfig configures web search providers.
type SearchConfig struct {
	Primary string              `yaml:"primary"` // tavily or brave
	Tavily  search.TavilyConfig `yaml:"tavily"`
	Brave   search.BraveConfig  `yaml:"brave"`
}

// SessionConfig controls session lifetime and history windowing.
type SessionConfig struct {
	TimeoutMinutes         int `yaml:"timeout_minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	HistoryPairs           int `yaml:"history_pairs"`
}

// Timeout returns the sliding session expiry window.
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often expired sessions are swept.
func (c SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// GuardrailsConfig configures the input filter.
type GuardrailsConfig struct {
	// PatternsFile overrides the built-in term lists. Empty uses the
	// embedded defaults.
	PatternsFile string `yaml:"patterns_file"`
}

// EscalationConfig configures human handoff and its notifiers.
type EscalationConfig struct {
	CooldownMinutes int          `yaml:"cooldown_minutes"`
	MaxEntries      int          `yaml:"max_entries"`
	MaxAgeHours     int          `yaml:"max_age_hours"`
	Slack           SlackConfig  `yaml:"slack"`
	MQTT            MQTTConfig   `yaml:"mqtt"`
	GitHub          GitHubConfig `yaml:"github"`
	Email           EmailConfig  `yaml:"email"`
}

// SlackConfig defines the Slack channel that receives escalations.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether a bot token is set.
func (c SlackConfig) Configured() bool { return c.Token != "" }

// MQTTConfig defines the broker that receives escalation events.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// GitHubConfig defines the repository where escalation issues are filed.
type GitHubConfig struct {
	Token  string   `yaml:"token"`
	Repo   string   `yaml:"repo"` // owner/name
	URL    string   `yaml:"url"`  // GitHub Enterprise base URL, optional
	Labels []string `yaml:"labels"`
}

// Configured reports whether a token and repository are set.
func (c GitHubConfig) Configured() bool { return c.Token != "" && c.Repo != "" }

// EmailConfig defines SMTP delivery of escalation notices.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	StartTLS bool     `yaml:"starttls"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Configured reports whether a host, sender and recipients are set.
func (c EmailConfig) Configured() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and unset fields receive
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration suitable for local development
// against an Ollama instance.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Router == "" {
		c.Models.Router = "qwen3:4b"
	}
	if c.Models.Knowledge == "" {
		c.Models.Knowledge = c.Models.Router
	}
	if c.Models.Support == "" {
		c.Models.Support = c.Models.Knowledge
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Search.Primary == "" {
		c.Search.Primary = "tavily"
	}
	if c.Session.TimeoutMinutes == 0 {
		c.Session.TimeoutMinutes = 5
	}
	if c.Session.CleanupIntervalMinutes == 0 {
		c.Session.CleanupIntervalMinutes = 30
	}
	if c.Session.HistoryPairs == 0 {
		c.Session.HistoryPairs = 5
	}
	if c.Escalation.CooldownMinutes == 0 {
		c.Escalation.CooldownMinutes = 5
	}
	if c.Escalation.MaxEntries == 0 {
		c.Escalation.MaxEntries = 1000
	}
	if c.Escalation.MaxAgeHours == 0 {
		c.Escalation.MaxAgeHours = 24
	}
	if c.Escalation.Slack.Channel == "" {
		c.Escalation.Slack.Channel = "#support-escalations"
	}
	if c.Escalation.MQTT.Topic == "" {
		c.Escalation.MQTT.Topic = "switchboard/escalations"
	}
	if c.Escalation.Email.Port == 0 {
		c.Escalation.Email.Port = 587
	}
}

// Validate checks for values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}
	if c.Session.TimeoutMinutes < 0 || c.Session.CleanupIntervalMinutes < 0 || c.Session.HistoryPairs < 0 {
		errs = append(errs, errors.New("session values must not be negative"))
	}
	switch c.Search.Primary {
	case "tavily", "brave":
	default:
		errs = append(errs, fmt.Errorf("unknown search.primary %q (valid: tavily, brave)", c.Search.Primary))
	}
	for model, p := range c.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			errs = append(errs, fmt.Errorf("pricing %q: prices must not be negative", model))
		}
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "anthropic", "ark":
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider))
		}
	}
	return errors.Join(errs...)
}
