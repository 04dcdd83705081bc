package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/basket/voxelbrain/internal/agent"
	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/tuiview"
)

// statusProvider builds the operator-view snapshot function: bulletin rows
// joined with each role's executor state, plus the latest skill progress and
// dispatch outcome observed on the bus.
func statusProvider(registry *agent.Registry, board *bulletin.Board, eventBus *bus.Bus) tuiview.StatusProvider {
	started := time.Now()

	var mu sync.Mutex
	progressByAgent := map[string]bus.SkillProgressEvent{}
	lastEvent := ""

	sub := eventBus.Subscribe("agent.")
	go func() {
		for ev := range sub.Ch() {
			mu.Lock()
			switch p := ev.Payload.(type) {
			case bus.SkillProgressEvent:
				if p.Active {
					progressByAgent[p.Agent] = p
				} else {
					delete(progressByAgent, p.Agent)
				}
			case bus.DispatchEvent:
				lastEvent = fmt.Sprintf("%s: %s -> %s", p.Agent, p.Action, p.Result)
			}
			mu.Unlock()
		}
	}()

	return func() tuiview.Snapshot {
		now := time.Now()
		snap := tuiview.Snapshot{Version: Version, Uptime: now.Sub(started)}

		mu.Lock()
		snap.LastEvent = lastEvent
		progress := make(map[string]bus.SkillProgressEvent, len(progressByAgent))
		for k, v := range progressByAgent {
			progress[k] = v
		}
		mu.Unlock()

		for _, ra := range registry.List() {
			entry, _ := board.Get(ra.Role.Name)
			row := tuiview.AgentRow{
				Agent: ra.Role.Name, Action: entry.Action,
				X: entry.X, Y: entry.Y, Z: entry.Z,
				Health: entry.Health, Food: entry.Food,
				Thought: entry.Thought,
				Stale:   entry.Stale(now),
			}
			if name, active := ra.Executor.ActiveName(); active {
				row.RunningSkill = name
				if p, ok := progress[ra.Role.Name]; ok {
					row.SkillPhase = p.Phase
					row.SkillPct = p.Progress
				}
			}
			snap.Rows = append(snap.Rows, row)
		}
		return snap
	}
}
