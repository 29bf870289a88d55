package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecretEnv string `yaml:"jwt_secret_env"`
		// Admins may configure, start and stop allocation. Empty means
		// every authenticated actor is an admin.
		Admins []string `yaml:"admins"`
		// DevLogin exposes POST /auth/dev/login, which mints a token for
		// any actor. Local use only.
		DevLogin         bool `yaml:"dev_login"`
		AllowActorHeader bool `yaml:"allow_actor_header"`
	} `yaml:"auth"`
	Sink       SinkConfig       `yaml:"sink"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Reputation ReputationConfig `yaml:"reputation"`
	Allocation AllocationConfig `yaml:"allocation"`
	Webhooks   []WebhookConfig  `yaml:"webhooks"`
	Tracing    struct {
		Enabled    bool   `yaml:"enabled"`
		OutputFile string `yaml:"output_file"`
	} `yaml:"tracing"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// SinkConfig selects the chat-platform adapter.
type SinkConfig struct {
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base_url"`
	// TokenEnv names the environment variable holding the gateway token.
	TokenEnv       string `yaml:"token_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LedgerConfig struct {
	Column    int    `yaml:"column"`
	Worksheet string `yaml:"worksheet"`
}

type ReputationConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
	MinKarma  int    `yaml:"min_karma"`
	Privilege string `yaml:"privilege"`
}

// AllocationConfig holds the defaults applied before an operator configures
// the allocator explicitly.
type AllocationConfig struct {
	Interval        Duration `yaml:"interval"`
	Window          Duration `yaml:"window"`
	RevocationDelay Duration `yaml:"revocation_delay"`
	WinnersPerRound int      `yaml:"winners_per_round"`
	TaskType        string   `yaml:"task_type"`
	Privilege       string   `yaml:"privilege"`
	PingTarget      string   `yaml:"ping_target"`
	Instructions    string   `yaml:"instructions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Duration is a time.Duration that reads "4m" style strings.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

var taskTypes = map[string]bool{"post": true, "upvote": true, "comment": true, "poll vote": true}

// ValidTaskType reports whether t is one of the supported task types.
func ValidTaskType(t string) bool {
	return taskTypes[strings.ToLower(strings.TrimSpace(t))]
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Sink.Kind {
	case "console":
	case "gateway":
		if c.Sink.BaseURL == "" {
			return fmt.Errorf("config.sink.base_url is required for the gateway sink")
		}
	default:
		return fmt.Errorf("config.sink.kind must be console or gateway, got %q", c.Sink.Kind)
	}
	if c.Sink.TimeoutSeconds < 0 {
		return fmt.Errorf("config.sink.timeout_seconds must not be negative")
	}
	if c.Ledger.Column < 1 {
		return fmt.Errorf("config.ledger.column must be at least 1")
	}
	if c.Reputation.MinKarma < 0 {
		return fmt.Errorf("config.reputation.min_karma must not be negative")
	}
	a := c.Allocation
	if a.Interval.Std() < time.Minute {
		return fmt.Errorf("config.allocation.interval must be at least 1m")
	}
	if a.Window.Std() < time.Second || a.Window.Std() > time.Minute {
		return fmt.Errorf("config.allocation.window must be between 1s and 60s")
	}
	if a.RevocationDelay.Std() < time.Hour || a.RevocationDelay.Std() > 168*time.Hour {
		return fmt.Errorf("config.allocation.revocation_delay must be between 1h and 168h")
	}
	if a.WinnersPerRound < 1 || a.WinnersPerRound > 20 {
		return fmt.Errorf("config.allocation.winners_per_round must be between 1 and 20")
	}
	if !ValidTaskType(a.TaskType) {
		return fmt.Errorf("config.allocation.task_type %q is not one of post, upvote, comment, poll vote", a.TaskType)
	}
	if strings.TrimSpace(a.Privilege) == "" {
		return fmt.Errorf("config.allocation.privilege is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// WebhookEnabled reports whether hook should receive deliveries.
func (w WebhookConfig) WebhookEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  jwt_secret_env: TASKLINE_JWT_SECRET
  admins: []
  dev_login: false
  allow_actor_header: false

sink:
  kind: console
  base_url: ""
  token_env: TASKLINE_GATEWAY_TOKEN
  timeout_seconds: 10

ledger:
  column: 4
  worksheet: Tasks

reputation:
  base_url: https://www.reddit.com
  user_agent: taskline/1.0
  min_karma: 500
  privilege: VERIFIED

allocation:
  interval: 4m
  window: 5s
  revocation_delay: 12h
  winners_per_round: 1
  task_type: comment
  privilege: TaskHolder
  ping_target: VERIFIED
  instructions: ""

webhooks: []

tracing:
  enabled: false
  output_file: ""

metrics:
  enabled: true
  path: /metrics
`
