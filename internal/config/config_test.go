package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NeedsGenesisWhenMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("VOXELBRAIN_HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis=true for a fresh home dir")
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("default provider = %q, want google", cfg.LLM.Provider)
	}
}

func TestLoad_ParsesRolesAndBrainTuning(t *testing.T) {
	home := t.TempDir()
	t.Setenv("VOXELBRAIN_HOME", home)

	yamlSrc := `
log_level: debug
llm:
  provider: anthropic
  strong_model: claude-sonnet-4-5
  fast_model: claude-haiku-4-5
brain:
  idle_interval_seconds: 30
  strategic_cooldown_seconds: 10
roles:
  - name: miner
    credentials:
      username: miner
      host: localhost
      port: 25565
    leash_radius: 64
    combat_available: true
`
	if err := os.WriteFile(ConfigPath(home), []byte(yamlSrc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Fatal("NeedsGenesis should be false when config.yaml exists")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.StrongModel != "claude-sonnet-4-5" {
		t.Fatalf("unexpected LLM config: %+v", cfg.LLM)
	}
	if len(cfg.Roles) != 1 || cfg.Roles[0].Name != "miner" {
		t.Fatalf("unexpected roles: %+v", cfg.Roles)
	}
	if !cfg.Roles[0].CombatAvailable {
		t.Fatal("expected combat_available to parse true")
	}
	if cfg.Brain.IdleIntervalSeconds != 30 {
		t.Fatalf("idle_interval_seconds = %v, want 30", cfg.Brain.IdleIntervalSeconds)
	}
}

func TestNormalize_FillsMemoryDefaults(t *testing.T) {
	home := t.TempDir()
	cfg := defaultConfig()
	cfg.HomeDir = home
	normalize(&cfg)

	if cfg.Memory.Dir != home {
		t.Fatalf("Memory.Dir = %q, want %q", cfg.Memory.Dir, home)
	}
	wantDB := filepath.Join(home, "voxelbrain.db")
	if cfg.Memory.SQLitePath != wantDB {
		t.Fatalf("Memory.SQLitePath = %q, want %q", cfg.Memory.SQLitePath, wantDB)
	}
	if cfg.Memory.SkillsDir != "./skills" {
		t.Fatalf("Memory.SkillsDir = %q, want ./skills", cfg.Memory.SkillsDir)
	}
}

func TestApplyEnvOverrides_ProviderGatesAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-secret")
	t.Setenv("GEMINI_API_KEY", "gemini-secret")

	cfg := defaultConfig()
	cfg.LLM.Provider = "anthropic"
	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey != "anthropic-secret" {
		t.Fatalf("LLM.APIKey = %q, want anthropic-secret (provider-gated)", cfg.LLM.APIKey)
	}
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	good := defaultConfig()
	good.Roles = []RoleConfig{{Name: "miner"}, {Name: "farmer"}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	dup := defaultConfig()
	dup.Roles = []RoleConfig{{Name: "miner"}, {Name: "miner"}}
	if err := dup.Validate(); err == nil {
		t.Fatal("duplicate role names must be rejected")
	}

	unnamed := defaultConfig()
	unnamed.Roles = []RoleConfig{{}}
	if err := unnamed.Validate(); err == nil {
		t.Fatal("empty role name must be rejected")
	}

	badProvider := defaultConfig()
	badProvider.LLM.Provider = "carrier-pigeon"
	if err := badProvider.Validate(); err == nil {
		t.Fatal("unknown provider must be rejected")
	}

	badLeash := defaultConfig()
	badLeash.Roles = []RoleConfig{{Name: "miner", LeashRadius: -5}}
	if err := badLeash.Validate(); err == nil {
		t.Fatal("negative leash must be rejected")
	}
}

func TestLLMProviderAPIKey_EnvOverridesConfig(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	cfg := defaultConfig()
	cfg.LLM.Provider = "openrouter"
	cfg.LLM.APIKey = "config-key"

	if got := cfg.LLMProviderAPIKey(); got != "env-key" {
		t.Fatalf("LLMProviderAPIKey() = %q, want env-key", got)
	}
}
