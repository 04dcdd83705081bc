package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/config"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/gameclient/fake"
	"github.com/basket/voxelbrain/internal/llm"
	"github.com/basket/voxelbrain/internal/memory"
	"github.com/basket/voxelbrain/internal/safety"
	"github.com/basket/voxelbrain/internal/skills/builtin"
	"github.com/basket/voxelbrain/internal/store"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	sqlStore, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlStore.Close() })

	reg := NewRegistry(Deps{
		SQLStore:  sqlStore,
		Bus:       bus.New(),
		Bulletin:  bulletin.New(nil),
		Blacklist: failure.NewShortTermBlacklist(),
		Skills:    builtin.All(),
		MemoryDir: t.TempDir(),
		NewClient: func(config.RoleConfig) (gameclient.Client, error) {
			return fake.New(), nil
		},
	})
	return reg
}

func testRoleConfig(name string) config.RoleConfig {
	return config.RoleConfig{
		Name:           name,
		AllowedActions: []string{"go_to", "say"},
		AllowedSkills:  []string{"build_farm"},
		Home:           &config.AnchorConfig{X: 0, Y: 64, Z: 0},
		LeashRadius:    64,
	}
}

func TestRegistry_StartRoleTwiceFails(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()
	sanitizer := safety.NewSanitizer()
	llmCfg := llm.Config{Provider: "google"}

	if err := reg.StartRole(ctx, testRoleConfig("scout"), config.BrainTuningConfig{}, llmCfg, sanitizer); err != nil {
		t.Fatalf("StartRole: %v", err)
	}
	defer reg.StopAll()

	if err := reg.StartRole(ctx, testRoleConfig("scout"), config.BrainTuningConfig{}, llmCfg, sanitizer); err == nil {
		t.Fatal("expected error starting an already-running role")
	}
}

func TestRegistry_StartStopRole(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()
	sanitizer := safety.NewSanitizer()
	llmCfg := llm.Config{Provider: "google"}

	if err := reg.StartRole(ctx, testRoleConfig("builder"), config.BrainTuningConfig{}, llmCfg, sanitizer); err != nil {
		t.Fatalf("StartRole: %v", err)
	}

	ra := reg.Get("builder")
	if ra == nil {
		t.Fatal("role not found in registry")
	}
	if ra.Role.Name != "builder" {
		t.Errorf("role name = %q, want %q", ra.Role.Name, "builder")
	}

	if err := reg.StopRole("builder"); err != nil {
		t.Fatalf("StopRole: %v", err)
	}
	if reg.Get("builder") != nil {
		t.Fatal("role still present after StopRole")
	}
}

func TestRegistry_StartupHealsStaticBrokenSkills(t *testing.T) {
	memDir := t.TempDir()
	mem, err := memory.Open(filepath.Join(memDir, "memory-healer.json"))
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	// build_farm ships with the binary; gen_mystery is a generated skill.
	if err := mem.MarkSkillBroken("build_farm"); err != nil {
		t.Fatal(err)
	}
	if err := mem.MarkSkillBroken("gen_mystery"); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry(Deps{
		Bus:       bus.New(),
		Bulletin:  bulletin.New(nil),
		Blacklist: failure.NewShortTermBlacklist(),
		Skills:    builtin.All(),
		MemoryDir: memDir,
		NewClient: func(config.RoleConfig) (gameclient.Client, error) {
			return fake.New(), nil
		},
	})
	if err := reg.StartRole(context.Background(), testRoleConfig("healer"), config.BrainTuningConfig{}, llm.Config{Provider: "google"}, safety.NewSanitizer()); err != nil {
		t.Fatalf("StartRole: %v", err)
	}
	defer reg.StopAll()

	ra := reg.Get("healer")
	if ra.Memory.IsSkillBroken("build_farm") {
		t.Errorf("static skill should be healed on startup")
	}
	if !ra.Memory.IsSkillBroken("gen_mystery") {
		t.Errorf("generated skill must survive the startup heal")
	}
}

func TestRegistry_StopAllDrainsEveryRole(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()
	sanitizer := safety.NewSanitizer()
	llmCfg := llm.Config{Provider: "google"}

	for _, name := range []string{"a", "b", "c"} {
		if err := reg.StartRole(ctx, testRoleConfig(name), config.BrainTuningConfig{}, llmCfg, sanitizer); err != nil {
			t.Fatalf("StartRole(%s): %v", name, err)
		}
	}
	if got := len(reg.List()); got != 3 {
		t.Fatalf("expected 3 running roles, got %d", got)
	}

	done := make(chan struct{})
	go func() {
		reg.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return in time")
	}
}
