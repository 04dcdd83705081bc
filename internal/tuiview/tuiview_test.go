package tuiview

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestView_ShowsAgentRowsAndSkillProgress(t *testing.T) {
	m := model{
		snap: Snapshot{
			Version: "v0.1.0-test",
			Uptime:  42 * time.Second,
			Rows: []AgentRow{
				{Agent: "miner", Action: "gather_wood", X: 10, Y: 64, Z: -3, Health: 18, Food: 20,
					RunningSkill: "build_house", SkillPhase: "executing", SkillPct: 0.5,
					Thought: "trees!"},
				{Agent: "farmer", Action: "idle", Health: 20, Food: 20, Stale: true},
			},
			LastEvent: "dispatch gather_wood succeeded",
		},
	}
	view := m.View()

	for _, want := range []string{
		"voxelbrain v0.1.0-test",
		"miner",
		"gather_wood",
		"build_house",
		"50%",
		"trees!",
		"[stale]",
		"dispatch gather_wood succeeded",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

func TestView_EmptySnapshot(t *testing.T) {
	m := model{snap: Snapshot{Version: "v0"}}
	if view := m.View(); !strings.Contains(view, "no agents running") {
		t.Errorf("empty view:\n%s", view)
	}
}

func TestUpdate_TickRefreshesFromProvider(t *testing.T) {
	calls := 0
	provider := func() Snapshot {
		calls++
		return Snapshot{Rows: []AgentRow{{Agent: "miner", Action: "explore"}}}
	}
	m := model{provider: provider}

	next, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatalf("tick should schedule the next tick")
	}
	if calls != 1 {
		t.Fatalf("provider calls = %d", calls)
	}
	if got := next.(model).snap.Rows[0].Agent; got != "miner" {
		t.Fatalf("row agent = %q", got)
	}
}

func TestUpdate_QuitKeys(t *testing.T) {
	m := model{}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatalf("ctrl+c should quit")
	}
}

func TestProgressBar_Bounds(t *testing.T) {
	if got := progressBar(-0.5); !strings.Contains(got, "0%") {
		t.Errorf("negative pct: %q", got)
	}
	if got := progressBar(2); !strings.Contains(got, "100%") || !strings.Contains(got, "##########") {
		t.Errorf("overflow pct: %q", got)
	}
}
