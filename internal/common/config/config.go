// Package config provides configuration management for the discode bridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the bridge.
type Config struct {
	Hook      HookConfig      `mapstructure:"hook"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Router    RouterConfig    `mapstructure:"router"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	NATS      NATSConfig      `mapstructure:"nats"`
	State     StateConfig     `mapstructure:"state"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Projects  []ProjectConfig `mapstructure:"projects"`
}

// HookConfig holds the hook HTTP server configuration.
// The server only ever binds the loopback interface.
type HookConfig struct {
	Port         int    `mapstructure:"port"`
	Token        string `mapstructure:"token"`        // bearer token; empty disables auth
	Hostname     string `mapstructure:"hostname"`     // host advertised to hook clients
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// PlatformConfig selects and configures the chat platform adapter.
type PlatformConfig struct {
	Kind         string `mapstructure:"kind"` // discord or slack
	Token        string `mapstructure:"token"`
	SlackAppToken string `mapstructure:"slackAppToken"` // xapp- token for Socket Mode
}

// RouterConfig holds inbound chat message routing configuration.
type RouterConfig struct {
	SubmitDelayMs         int `mapstructure:"submitDelayMs"`
	OpencodeSubmitDelayMs int `mapstructure:"opencodeSubmitDelayMs"`
	MaxMessageChars       int `mapstructure:"maxMessageChars"`
}

// StreamingConfig holds streaming-message debounce configuration.
type StreamingConfig struct {
	DebounceMs int `mapstructure:"debounceMs"`
}

// FallbackConfig holds terminal buffer fallback configuration.
type FallbackConfig struct {
	InitialDelayMs  int    `mapstructure:"initialDelayMs"`
	StableCheckMs   int    `mapstructure:"stableCheckMs"`
	MaxChecks       int    `mapstructure:"maxChecks"`
	SeparatorGlyphs string `mapstructure:"separatorGlyphs"` // chars counted as separator material
	ChromeMaxLines  int    `mapstructure:"chromeMaxLines"`  // status-bar lines tolerated after a separator
}

// PromptsConfig holds interactive prompt timeout configuration.
type PromptsConfig struct {
	ApprovalTimeoutMs int `mapstructure:"approvalTimeoutMs"`
	QuestionTimeoutMs int `mapstructure:"questionTimeoutMs"`
}

// NATSConfig holds optional NATS mirroring configuration.
// An empty URL means hook events stay on the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// StateConfig holds project/instance registry storage configuration.
// An empty DBPath selects the in-memory store.
type StateConfig struct {
	DBPath string `mapstructure:"dbPath"`
}

// RuntimeConfig holds terminal runtime configuration.
type RuntimeConfig struct {
	Kind        string `mapstructure:"kind"`        // tmux or none
	TmuxSession string `mapstructure:"tmuxSession"` // session hosting agent windows
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ProjectConfig provisions one project and its agent instances from the config file.
type ProjectConfig struct {
	Name      string           `mapstructure:"name"`
	Path      string           `mapstructure:"path"`
	ChannelID string           `mapstructure:"channelId"`
	Instances []InstanceConfig `mapstructure:"instances"`
}

// InstanceConfig provisions one agent instance within a project.
type InstanceConfig struct {
	ID        string `mapstructure:"id"`
	AgentType string `mapstructure:"agentType"`
	ChannelID string `mapstructure:"channelId"`
	WindowID  string `mapstructure:"windowId"` // terminal window target; empty for SDK runners
	Kind      string `mapstructure:"kind"`     // terminal or sdk
	Command   string `mapstructure:"command"`  // runner command for sdk instances
	Primary   bool   `mapstructure:"primary"`
}

// SubmitDelay returns the type-to-Enter delay for the given agent type.
func (r *RouterConfig) SubmitDelay(agentType string) time.Duration {
	if agentType == "opencode" {
		return time.Duration(r.OpencodeSubmitDelayMs) * time.Millisecond
	}
	return time.Duration(r.SubmitDelayMs) * time.Millisecond
}

// DebounceDuration returns the streaming debounce as a time.Duration.
func (s *StreamingConfig) DebounceDuration() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// ApprovalTimeout returns the permission-prompt timeout as a time.Duration.
func (p *PromptsConfig) ApprovalTimeout() time.Duration {
	return time.Duration(p.ApprovalTimeoutMs) * time.Millisecond
}

// QuestionTimeout returns the interactive-question timeout as a time.Duration.
func (p *PromptsConfig) QuestionTimeout() time.Duration {
	return time.Duration(p.QuestionTimeoutMs) * time.Millisecond
}

// InitialDelay returns the fallback initial delay as a time.Duration.
func (f *FallbackConfig) InitialDelay() time.Duration {
	return time.Duration(f.InitialDelayMs) * time.Millisecond
}

// StableCheck returns the fallback stability recheck interval as a time.Duration.
func (f *FallbackConfig) StableCheck() time.Duration {
	return time.Duration(f.StableCheckMs) * time.Millisecond
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (h *HookConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (h *HookConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" for production environments, "text" for terminal use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("DISCODE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Hook server defaults
	v.SetDefault("hook.port", 18470)
	v.SetDefault("hook.token", "")
	v.SetDefault("hook.hostname", "127.0.0.1")
	v.SetDefault("hook.readTimeout", 30)
	v.SetDefault("hook.writeTimeout", 30)

	// Platform defaults
	v.SetDefault("platform.kind", "discord")
	v.SetDefault("platform.token", "")
	v.SetDefault("platform.slackAppToken", "")

	// Router defaults
	v.SetDefault("router.submitDelayMs", 300)
	v.SetDefault("router.opencodeSubmitDelayMs", 75)
	v.SetDefault("router.maxMessageChars", 10000)

	// Streaming defaults
	v.SetDefault("streaming.debounceMs", 750)

	// Fallback defaults
	v.SetDefault("fallback.initialDelayMs", 3000)
	v.SetDefault("fallback.stableCheckMs", 2000)
	v.SetDefault("fallback.maxChecks", 3)
	v.SetDefault("fallback.separatorGlyphs", "-─━═│┃┌┐└┘├┤┬┴┼╭╮╯╰╴╶")
	v.SetDefault("fallback.chromeMaxLines", 2)

	// Prompt timeout defaults
	v.SetDefault("prompts.approvalTimeoutMs", 120000)
	v.SetDefault("prompts.questionTimeoutMs", 300000)

	// NATS defaults - empty URL means in-memory bus only
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "discode-bridge")
	v.SetDefault("nats.maxReconnects", 10)

	// State defaults - empty path means in-memory registry
	v.SetDefault("state.dbPath", "")

	// Runtime defaults
	v.SetDefault("runtime.kind", "tmux")
	v.SetDefault("runtime.tmuxSession", "discode")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DISCODE_ with snake_case naming.
// Config file should be named discode.yaml and placed in the current directory
// or under ~/.discode/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("DISCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the documented tunables whose env var naming
	// differs from the nested config key naming.
	_ = v.BindEnv("hook.port", "DISCODE_HOOK_PORT")
	_ = v.BindEnv("hook.token", "DISCODE_HOOK_TOKEN")
	_ = v.BindEnv("hook.hostname", "DISCODE_HOSTNAME")
	_ = v.BindEnv("router.submitDelayMs", "DISCODE_SUBMIT_DELAY_MS")
	_ = v.BindEnv("router.opencodeSubmitDelayMs", "DISCODE_OPENCODE_SUBMIT_DELAY_MS")
	_ = v.BindEnv("streaming.debounceMs", "DISCODE_STREAM_DEBOUNCE_MS")
	_ = v.BindEnv("fallback.initialDelayMs", "DISCODE_BUFFER_FALLBACK_INITIAL_MS")
	_ = v.BindEnv("fallback.stableCheckMs", "DISCODE_BUFFER_FALLBACK_STABLE_MS")
	_ = v.BindEnv("prompts.approvalTimeoutMs", "DISCODE_APPROVAL_TIMEOUT_MS")
	_ = v.BindEnv("prompts.questionTimeoutMs", "DISCODE_QUESTION_TIMEOUT_MS")
	_ = v.BindEnv("platform.kind", "DISCODE_PLATFORM")
	_ = v.BindEnv("platform.token", "DISCODE_PLATFORM_TOKEN")
	_ = v.BindEnv("platform.slackAppToken", "DISCODE_SLACK_APP_TOKEN")
	_ = v.BindEnv("nats.url", "DISCODE_NATS_URL")
	_ = v.BindEnv("state.dbPath", "DISCODE_STATE_DB")

	// Configure config file
	v.SetConfigName("discode")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.discode")
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Hook.Port <= 0 || cfg.Hook.Port > 65535 {
		errs = append(errs, "hook.port must be between 1 and 65535")
	}

	switch cfg.Platform.Kind {
	case "discord", "slack", "none":
	default:
		errs = append(errs, "platform.kind must be one of: discord, slack, none")
	}

	switch cfg.Runtime.Kind {
	case "tmux", "none":
	default:
		errs = append(errs, "runtime.kind must be one of: tmux, none")
	}

	if cfg.Router.MaxMessageChars <= 0 {
		errs = append(errs, "router.maxMessageChars must be positive")
	}
	if cfg.Streaming.DebounceMs <= 0 {
		errs = append(errs, "streaming.debounceMs must be positive")
	}
	if cfg.Fallback.MaxChecks <= 0 {
		errs = append(errs, "fallback.maxChecks must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
