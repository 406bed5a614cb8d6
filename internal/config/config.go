package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for doubtbot. It is constructed once at
// process entry and passed by reference; pipeline components never read
// configuration as ambient state.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Templates TemplatesConfig `json:"templates"`
	Stats     StatsConfig     `json:"stats"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel          string `json:"logLevel"`
	LogFile           string `json:"logFile,omitempty"`
	Command           string `json:"command"` // invocation command, e.g. "/doubt"
	MaxConcurrentRuns int    `json:"maxConcurrentRuns"`
}

// ProviderConfig selects and configures the completion service client.
type ProviderConfig struct {
	Name           string `json:"name"` // "gemini" | "openai"
	APIKey         string `json:"apiKey,omitempty"`
	APIBase        string `json:"apiBase,omitempty"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
	// MessageLimit is the chunking limit, kept with margin below Telegram's
	// 4096 hard maximum.
	MessageLimit int `json:"messageLimit"`
}

type DiscordConfig struct {
	Enabled      bool   `json:"enabled"`
	Token        string `json:"token"`
	GuildID      string `json:"guildId,omitempty"`
	MessageLimit int    `json:"messageLimit"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type TemplatesConfig struct {
	// Path to a YAML file overriding the built-in prompt and message
	// templates. Empty or missing keeps the defaults.
	Path string `json:"path,omitempty"`
}

type StatsConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.doubtbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".doubtbot"
	}
	return filepath.Join(home, ".doubtbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Templates.Path = ExpandPath(cfg.Templates.Path)
	cfg.Stats.DBPath = ExpandPath(cfg.Stats.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentRuns < 1 || cfg.General.MaxConcurrentRuns > 100 {
		errs = append(errs, "general.maxConcurrentRuns must be between 1 and 100")
	}
	if !strings.HasPrefix(cfg.General.Command, "/") {
		errs = append(errs, "general.command must start with '/'")
	}

	switch cfg.Provider.Name {
	case "gemini", "openai":
		// valid
	default:
		errs = append(errs, "provider.name must be one of: gemini, openai")
	}
	if cfg.Provider.TimeoutSeconds < 0 {
		errs = append(errs, "provider.timeoutSeconds must be >= 0")
	}

	if lim := cfg.Channels.Telegram.MessageLimit; lim < 1 || lim > 4096 {
		errs = append(errs, "channels.telegram.messageLimit must be between 1 and 4096")
	}
	if lim := cfg.Channels.Discord.MessageLimit; lim < 1 || lim > 2000 {
		errs = append(errs, "channels.discord.messageLimit must be between 1 and 2000")
	}

	if cfg.Stats.Enabled && cfg.Stats.DBPath == "" {
		errs = append(errs, "stats.dbPath is required when stats are enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Provider.APIKey = mask(out.Provider.APIKey)
	out.Channels.Telegram.Token = mask(out.Channels.Telegram.Token)
	out.Channels.Discord.Token = mask(out.Channels.Discord.Token)
	return &out
}

func mask(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
