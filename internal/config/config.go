// Package config loads ccbridge settings with viper.
//
// Precedence: explicit Set calls (flags) > environment > JSON config file >
// defaults. A missing or malformed config file is not an error: the bridge
// starts on defaults plus environment.
//
// Environment variables use the CCBRIDGE_ prefix with dots replaced by
// underscores (CCBRIDGE_ASSISTANT_BACKEND=api). The platform token variables
// TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN and SLACK_BOT_TOKEN/SLACK_APP_TOKEN
// are honoured too, and setting one enables its platform.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/roles"
)

// ErrNoConfig is reported by FileErr when the config file does not exist.
var ErrNoConfig = errors.New("config file not found")

// Config is the full ccbridge configuration.
type Config struct {
	StateDir  string          `mapstructure:"state_dir" yaml:"state_dir"`
	Bridge    BridgeConfig    `mapstructure:"bridge" yaml:"bridge"`
	Roles     RolesConfig     `mapstructure:"roles" yaml:"roles"`
	Assistant AssistantConfig `mapstructure:"assistant" yaml:"assistant"`
	Slack     SlackConfig     `mapstructure:"slack" yaml:"slack"`
	Telegram  TelegramConfig  `mapstructure:"telegram" yaml:"telegram"`
	Discord   DiscordConfig   `mapstructure:"discord" yaml:"discord"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
}

// BridgeConfig controls how chat text becomes commands.
type BridgeConfig struct {
	Prefixes    []string `mapstructure:"prefixes" yaml:"prefixes"`
	ImplicitAsk bool     `mapstructure:"implicit_ask" yaml:"implicit_ask"`
}

// RolesConfig assigns roles to chat users. Ids are bare or "platform:id".
type RolesConfig struct {
	Admins  []string `mapstructure:"admins" yaml:"admins"`
	Users   []string `mapstructure:"users" yaml:"users"`
	Viewers []string `mapstructure:"viewers" yaml:"viewers"`
	Default string   `mapstructure:"default" yaml:"default"`
	// Baseline is the role required by commands missing from the permission table.
	Baseline string `mapstructure:"baseline" yaml:"baseline"`
}

// AssistantConfig selects and tunes the assistant backend.
type AssistantConfig struct {
	Backend      string        `mapstructure:"backend" yaml:"backend"`
	CLIPath      string        `mapstructure:"cli_path" yaml:"cli_path"`
	WorkDir      string        `mapstructure:"work_dir" yaml:"work_dir"`
	ExtraArgs    []string      `mapstructure:"extra_args" yaml:"extra_args"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Model        string        `mapstructure:"model" yaml:"model"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	MaxTokens    int64         `mapstructure:"max_tokens" yaml:"max_tokens"`
	HistoryTurns int           `mapstructure:"history_turns" yaml:"history_turns"`
	SystemPrompt string        `mapstructure:"system_prompt" yaml:"system_prompt"`
}

// SlackConfig configures the Socket Mode adapter.
type SlackConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken string `mapstructure:"bot_token" yaml:"-"`
	AppToken string `mapstructure:"app_token" yaml:"-"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`
}

// TelegramConfig configures the long-polling adapter.
type TelegramConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Token        string        `mapstructure:"token" yaml:"-"`
	APIURL       string        `mapstructure:"api_url" yaml:"api_url"`
	AllowedChats []string      `mapstructure:"allowed_chats" yaml:"allowed_chats"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
}

// DiscordConfig configures the gateway adapter.
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" yaml:"-"`
}

// HealthConfig configures the HTTP health endpoint. Port 0 disables it.
type HealthConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// DefaultDir returns ~/.ccbridge (or ./.ccbridge without a home directory).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ccbridge"
	}
	return filepath.Join(home, ".ccbridge")
}

// DefaultPath returns $CCBRIDGE_CONFIG or ~/.ccbridge/config.json.
func DefaultPath() string {
	if p := os.Getenv("CCBRIDGE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultDir(), "config.json")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", filepath.Join(DefaultDir(), "state"))

	v.SetDefault("bridge.prefixes", []string{"/", "!"})
	v.SetDefault("bridge.implicit_ask", false)

	v.SetDefault("roles.admins", []string{})
	v.SetDefault("roles.users", []string{})
	v.SetDefault("roles.viewers", []string{})
	v.SetDefault("roles.default", "viewer")
	v.SetDefault("roles.baseline", "user")

	v.SetDefault("assistant.backend", "cli")
	v.SetDefault("assistant.cli_path", "claude")
	v.SetDefault("assistant.work_dir", "")
	v.SetDefault("assistant.extra_args", []string{})
	v.SetDefault("assistant.timeout", 10*time.Minute)
	v.SetDefault("assistant.model", "claude-sonnet-4-5")
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.max_tokens", 4096)
	v.SetDefault("assistant.history_turns", 20)
	v.SetDefault("assistant.system_prompt", "")

	v.SetDefault("slack.enabled", false)
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.app_token", "")
	v.SetDefault("slack.debug", false)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.allowed_chats", []string{})
	v.SetDefault("telegram.poll_timeout", 30*time.Second)

	v.SetDefault("discord.enabled", false)
	v.SetDefault("discord.token", "")

	v.SetDefault("health.port", 8080)
}

// Loader reads configuration from one file plus the environment, and can
// watch the file for changes.
type Loader struct {
	v      *viper.Viper
	path   string
	getenv func(string) string
	logger *log.Logger

	mu      sync.Mutex
	current *Config
	fileErr error
}

// NewLoader creates a loader for path ("" means DefaultPath()).
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("CCBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Loader{
		v:      v,
		path:   path,
		getenv: os.Getenv,
		logger: debug.Logger("config"),
	}
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Set overrides a key, with higher precedence than env and file. Used for
// command-line flags.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load reads the file (if present) and returns the effective config. It
// never fails: unreadable or malformed files fall back to defaults.
func (l *Loader) Load() *Config {
	fileErr := l.v.ReadInConfig()
	if fileErr != nil {
		if _, statErr := os.Stat(l.path); errors.Is(statErr, os.ErrNotExist) {
			fileErr = fmt.Errorf("%w: %s", ErrNoConfig, l.path)
		}
		l.logger.Debug("using defaults", "file", l.path, "err", fileErr)
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		l.logger.Debug("config decode failed, using defaults", "err", err)
		cfg = defaults()
	}
	applyTokenEnv(cfg, l.getenv)

	l.mu.Lock()
	l.current = cfg
	l.fileErr = fileErr
	l.mu.Unlock()
	return cfg
}

// FileErr reports why the last Load did not use the config file: ErrNoConfig
// when it is missing, a parse error when it is malformed, nil when it was read.
func (l *Loader) FileErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileErr
}

// Current returns the most recently loaded config.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch calls onChange with the reloaded config whenever the file changes.
// It does nothing when the file does not exist.
func (l *Loader) Watch(onChange func(*Config)) {
	if _, err := os.Stat(l.path); err != nil {
		l.logger.Debug("not watching config", "file", l.path, "err", err)
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Info("config changed", "file", e.Name, "op", e.Op.String())
		onChange(l.Load())
	})
	l.v.WatchConfig()
}

func defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// applyTokenEnv applies the conventional platform token variables. A token
// set this way also enables its platform.
func applyTokenEnv(cfg *Config, getenv func(string) string) {
	if tok := getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Telegram.Token = tok
		cfg.Telegram.Enabled = true
	}
	if tok := getenv("DISCORD_BOT_TOKEN"); tok != "" {
		cfg.Discord.Token = tok
		cfg.Discord.Enabled = true
	}
	bot, app := getenv("SLACK_BOT_TOKEN"), getenv("SLACK_APP_TOKEN")
	if bot != "" {
		cfg.Slack.BotToken = bot
	}
	if app != "" {
		cfg.Slack.AppToken = app
	}
	if bot != "" && app != "" {
		cfg.Slack.Enabled = true
	}
	if cfg.Assistant.APIKey == "" {
		cfg.Assistant.APIKey = getenv("ANTHROPIC_API_KEY")
	}
}

// Assignments converts the roles section. Unknown role names fall back to
// viewer for Default and user for Baseline.
func (c *Config) Assignments() roles.Assignments {
	def, err := roles.ParseRole(c.Roles.Default)
	if err != nil {
		def = roles.RoleViewer
	}
	return roles.Assignments{
		Admins:  c.Roles.Admins,
		Users:   c.Roles.Users,
		Viewers: c.Roles.Viewers,
		Default: def,
	}
}

// BaselineRole returns the role for commands missing from the permission table.
func (c *Config) BaselineRole() roles.Role {
	r, err := roles.ParseRole(c.Roles.Baseline)
	if err != nil {
		return roles.Baseline
	}
	return r
}

// EnabledPlatforms lists the platforms switched on, in a fixed order.
func (c *Config) EnabledPlatforms() []string {
	var out []string
	if c.Slack.Enabled {
		out = append(out, "slack")
	}
	if c.Telegram.Enabled {
		out = append(out, "telegram")
	}
	if c.Discord.Enabled {
		out = append(out, "discord")
	}
	return out
}
