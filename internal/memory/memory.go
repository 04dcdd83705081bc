// Package memory implements the per-agent persistent JSON memory file
// and the on-disk half of the persistent broken-skill ledger.
package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/basket/voxelbrain/internal/gameclient"
)

const (
	maxDeaths   = 50
	maxAttempts = 100
	maxLessons  = 20
)

// Structure is a built structure recorded by the agent.
type Structure struct {
	Type    string    `json:"type"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Z       int       `json:"z"`
	BuiltAt time.Time `json:"builtAt"`
	Notes   string    `json:"notes,omitempty"`
}

// Death is a recorded death event.
type Death struct {
	Location  string    `json:"location"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Z         int       `json:"z"`
	Cause     string    `json:"cause"`
	Timestamp time.Time `json:"timestamp"`
}

// OreDiscovery is a recorded ore sighting.
type OreDiscovery struct {
	Type      string    `json:"type"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Z         int       `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

// SkillAttempt is one entry of the rolling skill-attempt history.
type SkillAttempt struct {
	Skill           string    `json:"skill"`
	Success         bool      `json:"success"`
	DurationSeconds float64   `json:"durationSeconds"`
	Notes           string    `json:"notes"`
	Timestamp       time.Time `json:"timestamp"`
}

// Memory is the full per-agent document shape.
type Memory struct {
	Structures       []Structure    `json:"structures"`
	Deaths           []Death        `json:"deaths"`
	OreDiscoveries   []OreDiscovery `json:"oreDiscoveries"`
	SkillHistory     []SkillAttempt `json:"skillHistory"`
	Lessons          []string       `json:"lessons"`
	BrokenSkillNames []string       `json:"brokenSkillNames"`
	SeasonGoal       *string        `json:"seasonGoal"`
	LastUpdated      time.Time      `json:"lastUpdated"`
}

// Store owns one agent's memory file, serialising all reads/writes through
// the owning agent's task.
// The mutex here is a defensive backstop, not a substitute for that
// single-task ownership rule.
type Store struct {
	mu   sync.Mutex
	path string
	data Memory
}

// Open loads path if it exists, or starts from an empty Memory otherwise.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: Memory{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns a deep-enough copy of the current document for reading.
func (s *Store) Snapshot() Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.data
	cp.Structures = append([]Structure(nil), s.data.Structures...)
	cp.Deaths = append([]Death(nil), s.data.Deaths...)
	cp.OreDiscoveries = append([]OreDiscovery(nil), s.data.OreDiscoveries...)
	cp.SkillHistory = append([]SkillAttempt(nil), s.data.SkillHistory...)
	cp.Lessons = append([]string(nil), s.data.Lessons...)
	cp.BrokenSkillNames = append([]string(nil), s.data.BrokenSkillNames...)
	return cp
}

// RecordStructure appends a built-structure entry and persists.
func (s *Store) RecordStructure(st Structure) error {
	s.mu.Lock()
	s.data.Structures = append(s.data.Structures, st)
	s.mu.Unlock()
	return s.save()
}

// RecordDeath appends a death entry (trimmed to 50, oldest first dropped)
// and persists.
func (s *Store) RecordDeath(d Death) error {
	s.mu.Lock()
	s.data.Deaths = append(s.data.Deaths, d)
	if len(s.data.Deaths) > maxDeaths {
		s.data.Deaths = s.data.Deaths[len(s.data.Deaths)-maxDeaths:]
	}
	s.mu.Unlock()
	return s.save()
}

// RecordOre implements worldctx.OreRecorder.
func (s *Store) RecordOre(oreType string, pos gameclient.Vec3) {
	s.mu.Lock()
	s.data.OreDiscoveries = append(s.data.OreDiscoveries, OreDiscovery{
		Type: oreType, X: pos.X, Y: pos.Y, Z: pos.Z, Timestamp: time.Now(),
	})
	s.mu.Unlock()
	_ = s.save()
}

// RecordSkillAttempt appends to the rolling history (trimmed to 100,
// oldest first dropped) and persists.
func (s *Store) RecordSkillAttempt(a SkillAttempt) error {
	s.mu.Lock()
	s.data.SkillHistory = append(s.data.SkillHistory, a)
	if len(s.data.SkillHistory) > maxAttempts {
		s.data.SkillHistory = s.data.SkillHistory[len(s.data.SkillHistory)-maxAttempts:]
	}
	s.mu.Unlock()
	return s.save()
}

// RecentSkillAttempts returns up to n most recent attempts for skill name
// (used by failure-memory promotion logic).
func (s *Store) RecentSkillAttempts(name string) []SkillAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SkillAttempt
	for _, a := range s.data.SkillHistory {
		if a.Skill == name {
			out = append(out, a)
		}
	}
	return out
}

// AddLesson appends a lesson string (trimmed to 20, oldest first dropped).
func (s *Store) AddLesson(text string) error {
	s.mu.Lock()
	s.data.Lessons = append(s.data.Lessons, text)
	if len(s.data.Lessons) > maxLessons {
		s.data.Lessons = s.data.Lessons[len(s.data.Lessons)-maxLessons:]
	}
	s.mu.Unlock()
	return s.save()
}

// MarkSkillBroken adds name to the persistent broken-skill set.
func (s *Store) MarkSkillBroken(name string) error {
	s.mu.Lock()
	if !containsStr(s.data.BrokenSkillNames, name) {
		s.data.BrokenSkillNames = append(s.data.BrokenSkillNames, name)
	}
	s.mu.Unlock()
	return s.save()
}

// IsSkillBroken reports whether name is in the persistent broken set.
func (s *Store) IsSkillBroken(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsStr(s.data.BrokenSkillNames, name)
}

// HealStaticSkills unconditionally removes any name in staticNames from the
// broken set. Returns the healed names.
func (s *Store) HealStaticSkills(staticNames []string) ([]string, error) {
	s.mu.Lock()
	static := make(map[string]bool, len(staticNames))
	for _, n := range staticNames {
		static[n] = true
	}
	var kept []string
	var healed []string
	for _, n := range s.data.BrokenSkillNames {
		if static[n] {
			healed = append(healed, n)
			continue
		}
		kept = append(kept, n)
	}
	s.data.BrokenSkillNames = kept
	s.mu.Unlock()
	if len(healed) == 0 {
		return nil, nil
	}
	sort.Strings(healed)
	return healed, s.save()
}

// SetSeasonGoal sets or clears (goal == nil) the persistent season goal.
func (s *Store) SetSeasonGoal(goal *string) error {
	s.mu.Lock()
	s.data.SeasonGoal = goal
	s.mu.Unlock()
	return s.save()
}

// SeasonGoal returns the current season goal, or nil if unset.
func (s *Store) SeasonGoal() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SeasonGoal
}

// save writes the document atomically: write to a temp file in the same
// directory, then rename over the target.
func (s *Store) save() error {
	s.mu.Lock()
	s.data.LastUpdated = time.Now()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, ".memory-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func containsStr(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
