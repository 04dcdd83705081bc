package config

import (
	"fmt"
	"time"

	"github.com/basket/voxelbrain/internal/brain"
	"github.com/basket/voxelbrain/internal/role"
)

// AnchorConfig is a named world position loaded from YAML (home, stash,
// safe spawn).
type AnchorConfig struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

func (a *AnchorConfig) toRole() *role.Anchor {
	if a == nil {
		return nil
	}
	return &role.Anchor{X: a.X, Y: a.Y, Z: a.Z}
}

// KeepItemConfig mirrors role.KeepItem for YAML loading.
type KeepItemConfig struct {
	Pattern string `yaml:"pattern"`
	MinQty  int    `yaml:"min_qty"`
}

// CredentialsConfig holds the game-protocol login details for one role.
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Version  string `yaml:"version"`
}

// RoleConfig is one entry of the Roles list: everything needed to
// construct a role.Role and run one brain.Brain against it.
type RoleConfig struct {
	Name        string            `yaml:"name"`
	Credentials CredentialsConfig `yaml:"credentials"`

	AllowedActions []string `yaml:"allowed_actions"`
	AllowedSkills  []string `yaml:"allowed_skills"`

	Personality string `yaml:"personality"`
	Priorities  string `yaml:"priorities"`

	Home        *AnchorConfig    `yaml:"home"`
	LeashRadius float64          `yaml:"leash_radius"`
	Stash       *AnchorConfig    `yaml:"stash"`
	SafeSpawn   *AnchorConfig    `yaml:"safe_spawn"`
	KeepItems   []KeepItemConfig `yaml:"keep_items"`

	// CombatAvailable offers neural_combat to the reactive handler's
	// action subset when a coprocessor address is configured.
	CombatAvailable bool `yaml:"combat_available"`
}

// ToRole converts a loaded RoleConfig into the immutable role.Role the rest
// of the system consumes.
func (rc RoleConfig) ToRole() role.Role {
	keep := make([]role.KeepItem, 0, len(rc.KeepItems))
	for _, k := range rc.KeepItems {
		keep = append(keep, role.KeepItem{Pattern: k.Pattern, MinQty: k.MinQty})
	}
	return role.Role{
		Name: rc.Name,
		Credentials: role.Credentials{
			Username: rc.Credentials.Username,
			Host:     rc.Credentials.Host,
			Port:     rc.Credentials.Port,
			Version:  rc.Credentials.Version,
		},
		AllowedActions: rc.AllowedActions,
		AllowedSkills:  rc.AllowedSkills,
		Personality:    rc.Personality,
		Priorities:     rc.Priorities,
		Home:           rc.Home.toRole(),
		LeashRadius:    rc.LeashRadius,
		Stash:          rc.Stash.toRole(),
		SafeSpawn:      rc.SafeSpawn.toRole(),
		KeepItems:      keep,
	}
}

// BrainTuningConfig exposes the scheduler's timers and cooldowns for
// operator tuning. All fields are seconds; zero means "use the
// brain package default".
type BrainTuningConfig struct {
	IdleIntervalSeconds        float64 `yaml:"idle_interval_seconds"`
	HostileScanIntervalSeconds float64 `yaml:"hostile_scan_interval_seconds"`
	HostileScanRadius          float64 `yaml:"hostile_scan_radius"`
	HostileDedupWindowSeconds  float64 `yaml:"hostile_dedup_window_seconds"`
	ReactiveCooldownSeconds    float64 `yaml:"reactive_cooldown_seconds"`
	StrategicCooldownSeconds   float64 `yaml:"strategic_cooldown_seconds"`
	WaterEscapeDelaySeconds    float64 `yaml:"water_escape_delay_seconds"`
	LeashHardMultiplier        float64 `yaml:"leash_hard_multiplier"`
}

// ToBrainConfig converts tuning seconds into a brain.Config. Zero fields
// fall back to brain's own package defaults via Config.withDefaults.
func (bc BrainTuningConfig) ToBrainConfig() brain.Config {
	return brain.Config{
		IdleInterval:        secondsToDuration(bc.IdleIntervalSeconds),
		HostileScanInterval: secondsToDuration(bc.HostileScanIntervalSeconds),
		HostileScanRadius:   bc.HostileScanRadius,
		HostileDedupWindow:  secondsToDuration(bc.HostileDedupWindowSeconds),
		ReactiveCooldown:    secondsToDuration(bc.ReactiveCooldownSeconds),
		StrategicCooldown:   secondsToDuration(bc.StrategicCooldownSeconds),
		WaterEscapeDelay:    secondsToDuration(bc.WaterEscapeDelaySeconds),
		LeashHardMultiplier: bc.LeashHardMultiplier,
	}
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// MemoryConfig locates the per-agent JSON memory file and the shared SQLite
// store.
type MemoryConfig struct {
	Dir          string `yaml:"dir"`
	SQLitePath   string `yaml:"sqlite_path"`
	SkillsDir    string `yaml:"skills_dir"`
	SkillsExtra  []string `yaml:"skills_extra_dirs"`
	GeneratedDir string `yaml:"generated_skills_dir"`
}

// CombatConfig points at the optional neural combat coprocessor.
type CombatConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// MemoryPathFor returns the JSON memory file path for one role name.
func (c *Config) MemoryPathFor(roleName string) string {
	dir := c.Memory.Dir
	if dir == "" {
		dir = c.HomeDir
	}
	return fmt.Sprintf("%s/memory-%s.json", dir, roleName)
}
