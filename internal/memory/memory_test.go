package memory

import (
	"path/filepath"
	"testing"

	"github.com/basket/voxelbrain/internal/gameclient"
)

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "agent.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(s.Snapshot().Deaths) != 0 {
		t.Fatalf("expected empty memory")
	}
}

func TestRecordDeath_TrimsToCap(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "agent.json"))
	for i := 0; i < maxDeaths+10; i++ {
		if err := s.RecordDeath(Death{Cause: "lava"}); err != nil {
			t.Fatalf("RecordDeath: %v", err)
		}
	}
	if got := len(s.Snapshot().Deaths); got != maxDeaths {
		t.Fatalf("Deaths len = %d, want %d", got, maxDeaths)
	}
}

func TestRecordSkillAttempt_TrimsAndFilters(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "agent.json"))
	for i := 0; i < maxAttempts+5; i++ {
		s.RecordSkillAttempt(SkillAttempt{Skill: "mine_iron", Success: i%2 == 0})
	}
	if got := len(s.Snapshot().SkillHistory); got != maxAttempts {
		t.Fatalf("SkillHistory len = %d, want %d", got, maxAttempts)
	}
	if got := len(s.RecentSkillAttempts("mine_iron")); got != maxAttempts {
		t.Fatalf("RecentSkillAttempts = %d, want %d", got, maxAttempts)
	}
	if got := len(s.RecentSkillAttempts("build_house")); got != 0 {
		t.Fatalf("RecentSkillAttempts(unrelated) = %d, want 0", got)
	}
}

func TestAddLesson_TrimsToCap(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "agent.json"))
	for i := 0; i < maxLessons+3; i++ {
		s.AddLesson("lesson")
	}
	if got := len(s.Snapshot().Lessons); got != maxLessons {
		t.Fatalf("Lessons len = %d, want %d", got, maxLessons)
	}
}

func TestMarkAndHealBrokenSkills(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "agent.json"))
	s.MarkSkillBroken("build_house")
	s.MarkSkillBroken("smelt_iron")
	if !s.IsSkillBroken("build_house") {
		t.Fatalf("expected build_house broken")
	}
	healed, err := s.HealStaticSkills([]string{"build_house"})
	if err != nil {
		t.Fatalf("HealStaticSkills: %v", err)
	}
	if len(healed) != 1 || healed[0] != "build_house" {
		t.Fatalf("healed = %v, want [build_house]", healed)
	}
	if s.IsSkillBroken("build_house") {
		t.Fatalf("expected build_house healed")
	}
	if !s.IsSkillBroken("smelt_iron") {
		t.Fatalf("expected smelt_iron still broken")
	}
}

func TestSeasonGoal_SetAndClear(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "agent.json"))
	goal := "build a castle"
	if err := s.SetSeasonGoal(&goal); err != nil {
		t.Fatalf("SetSeasonGoal: %v", err)
	}
	if got := s.SeasonGoal(); got == nil || *got != goal {
		t.Fatalf("SeasonGoal = %v, want %q", got, goal)
	}
	if err := s.SetSeasonGoal(nil); err != nil {
		t.Fatalf("SetSeasonGoal(nil): %v", err)
	}
	if s.SeasonGoal() != nil {
		t.Fatalf("expected season goal cleared")
	}
}

func TestSaveReload_Roundtrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.json")
	s, _ := Open(path)
	s.RecordOre("iron_ore", gameclient.Vec3{X: 1, Y: 2, Z: 3})
	s.RecordStructure(Structure{Type: "shelter", X: 1, Y: 2, Z: 3})

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("Open reload: %v", err)
	}
	snap := reloaded.Snapshot()
	if len(snap.OreDiscoveries) != 1 || snap.OreDiscoveries[0].Type != "iron_ore" {
		t.Fatalf("OreDiscoveries = %v", snap.OreDiscoveries)
	}
	if len(snap.Structures) != 1 || snap.Structures[0].Type != "shelter" {
		t.Fatalf("Structures = %v", snap.Structures)
	}
}
