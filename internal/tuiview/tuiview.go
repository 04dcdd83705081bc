// Package tuiview renders the operator terminal view: one row per running
// agent (bulletin state plus the active skill) refreshed once a second. It
// reads snapshots only; all mutation stays with the owning agent tasks.
package tuiview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// AgentRow is one agent's line on the operator view.
type AgentRow struct {
	Agent        string
	Action       string
	X, Y, Z      int
	Health       int
	Food         int
	Thought      string
	RunningSkill string
	SkillPhase   string
	SkillPct     float64
	Stale        bool
}

// Snapshot is everything the view shows on one refresh.
type Snapshot struct {
	Version   string
	Rows      []AgentRow
	LastEvent string
	Uptime    time.Duration
}

// StatusProvider supplies a fresh Snapshot on each tick.
type StatusProvider func() Snapshot

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	rowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	thoughtStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

type model struct {
	provider StatusProvider
	snap     Snapshot
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.provider()
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("voxelbrain %s", m.snap.Version)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  up %s", m.snap.Uptime.Truncate(time.Second))))
	b.WriteString("\n\n")

	if len(m.snap.Rows) == 0 {
		b.WriteString(dimStyle.Render("no agents running") + "\n")
	}

	rows := append([]AgentRow(nil), m.snap.Rows...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Agent < rows[j].Agent })

	for _, r := range rows {
		line := fmt.Sprintf("%-12s %-16s (%d,%d,%d) hp %d/20 food %d/20", r.Agent, r.Action, r.X, r.Y, r.Z, r.Health, r.Food)
		style := rowStyle
		if r.Stale {
			style = dimStyle
			line += " [stale]"
		}
		if r.Health <= 6 {
			style = warnStyle
		}
		b.WriteString(style.Render(line) + "\n")
		if r.RunningSkill != "" {
			b.WriteString(dimStyle.Render(fmt.Sprintf("             skill %s %s %s", r.RunningSkill, r.SkillPhase, progressBar(r.SkillPct))) + "\n")
		}
		if r.Thought != "" {
			b.WriteString(thoughtStyle.Render("             "+r.Thought) + "\n")
		}
	}

	if m.snap.LastEvent != "" {
		b.WriteString("\n" + dimStyle.Render("last: "+m.snap.LastEvent) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("press q to quit") + "\n")
	return b.String()
}

// progressBar renders pct in [0,1] as a fixed 10-cell bar.
func progressBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	filled := int(pct * 10)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", 10-filled) + fmt.Sprintf("] %3.0f%%", pct*100)
}

// Run drives the view until the user quits or ctx is cancelled.
func Run(ctx context.Context, provider StatusProvider) error {
	m := model{provider: provider, snap: provider()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}
