package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LLMConfig selects the language-model provider and the strong/fast model
// pair the two-tier llm.Client dispatches between.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic",
	// "openai", "openai_compatible", "openrouter".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`

	StrongModel string `yaml:"strong_model"`
	FastModel   string `yaml:"fast_model"`

	// OpenAICompatibleProvider/BaseURL configure a non-OpenAI endpoint that
	// speaks the OpenAI chat-completions wire format.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`
}

// TelegramConfig configures the optional Telegram chat-ingestion channel.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

// ChannelsConfig lists the chat-platform adapters ingesting viewer messages
// alongside in-game chat.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// Config is the root of config.yaml: the set of roles this process runs,
// their shared brain tuning/memory/combat defaults, the LLM endpoint, and
// the chat channels bridged into every role's brain.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	LLM LLMConfig `yaml:"llm"`

	Channels ChannelsConfig `yaml:"channels"`

	// Roles lists the agent roles this process runs, one running brain per
	// entry.
	Roles []RoleConfig `yaml:"roles"`

	// Brain/Memory/Combat are shared defaults; a future per-role override
	// would nest these under RoleConfig, but SPEC_FULL.md's tuning surface
	// is process-wide.
	Brain  BrainTuningConfig `yaml:"brain"`
	Memory MemoryConfig      `yaml:"memory"`
	Combat CombatConfig      `yaml:"combat"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// LLMProviderAPIKey returns the API key for the configured LLM provider,
// preferring the environment over config.yaml.
func (c Config) LLMProviderAPIKey() string {
	envMap := map[string]string{
		"google":            "GEMINI_API_KEY",
		"anthropic":         "ANTHROPIC_API_KEY",
		"openai":            "OPENAI_API_KEY",
		"openrouter":        "OPENROUTER_API_KEY",
		"openai_compatible": "OPENAI_API_KEY",
	}
	if envVar, ok := envMap[c.LLM.Provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return c.LLM.APIKey
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:    "google",
			StrongModel: "gemini-2.5-pro",
			FastModel:   "gemini-2.5-flash",
		},
		Memory: MemoryConfig{
			SkillsDir: "./skills",
		},
	}
}

// HomeDir returns the process's state directory, overridable for tests and
// multi-instance deployments.
func HomeDir() string {
	if override := os.Getenv("VOXELBRAIN_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".voxelbrain")
}

// Load reads config.yaml from HomeDir, applying environment overrides and
// defaults. A missing config.yaml sets NeedsGenesis rather than failing,
// so callers can prompt for first-run setup.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create voxelbrain home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var knownProviders = map[string]bool{
	"google": true, "anthropic": true, "openai": true,
	"openai_compatible": true, "openrouter": true,
}

// Validate rejects configurations no agent should be constructed from:
// duplicate or empty role names, negative leashes, unknown providers.
func (c Config) Validate() error {
	if !knownProviders[c.LLM.Provider] {
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	seen := map[string]bool{}
	for i, rc := range c.Roles {
		if rc.Name == "" {
			return fmt.Errorf("config: roles[%d] has no name", i)
		}
		if seen[rc.Name] {
			return fmt.Errorf("config: duplicate role name %q", rc.Name)
		}
		seen[rc.Name] = true
		if rc.LeashRadius < 0 {
			return fmt.Errorf("config: role %q has negative leash_radius", rc.Name)
		}
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Memory.SkillsDir == "" {
		cfg.Memory.SkillsDir = "./skills"
	}
	if cfg.Memory.Dir == "" {
		cfg.Memory.Dir = cfg.HomeDir
	}
	if cfg.Memory.SQLitePath == "" {
		cfg.Memory.SQLitePath = filepath.Join(cfg.HomeDir, "voxelbrain.db")
	}
	if cfg.Memory.GeneratedDir == "" {
		cfg.Memory.GeneratedDir = filepath.Join(cfg.HomeDir, "generated-skills")
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("VOXELBRAIN_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("VOXELBRAIN_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("GEMINI_API_KEY"); raw != "" && cfg.LLM.Provider == "google" {
		cfg.LLM.APIKey = raw
	}
	if raw := os.Getenv("ANTHROPIC_API_KEY"); raw != "" && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.APIKey = raw
	}
	if raw := os.Getenv("OPENAI_API_KEY"); raw != "" && (cfg.LLM.Provider == "openai" || cfg.LLM.Provider == "openai_compatible") {
		cfg.LLM.APIKey = raw
	}
	if raw := os.Getenv("OPENROUTER_API_KEY"); raw != "" && cfg.LLM.Provider == "openrouter" {
		cfg.LLM.APIKey = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
	if raw := os.Getenv("VOXELBRAIN_COMBAT_ADDR"); raw != "" {
		cfg.Combat.Addr = raw
		cfg.Combat.Enabled = true
	}
	if raw := os.Getenv("VOXELBRAIN_HOSTILE_SCAN_RADIUS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Brain.HostileScanRadius = v
		}
	}
}
