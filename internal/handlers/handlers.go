// Package handlers implements the four Decision Handlers: Strategic,
// Reactive, Critic, and Chat. Each builds a focused prompt, sends it to one
// of the two llm.Client tiers, parses the reply with the shared pipeline in
// parse.go, and hands the result to the Action Dispatcher.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/dispatch"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/llm"
	"github.com/basket/voxelbrain/internal/memory"
	"github.com/basket/voxelbrain/internal/role"
	"github.com/basket/voxelbrain/internal/safety"
	"github.com/basket/voxelbrain/internal/worldctx"
)

// reactiveAllowed is the small action subset the reactive handler may pick
// from.
var reactiveAllowed = []string{"attack", "flee", "eat", "idle"}

// Deps bundles the collaborators every handler needs. Built once per agent
// and shared across all four handler kinds.
type Deps struct {
	LLM        *llm.Client
	Dispatcher *dispatch.Dispatcher
	Role       role.Role
	Bulletin   *bulletin.Board
	Blacklist  *failure.ShortTermBlacklist
	Memory     *memory.Store
	Formatter  *worldctx.Formatter
	Sanitizer  *safety.Sanitizer
	Bus        *bus.Bus
	AgentName  string
	Logger     *slog.Logger
	// CombatAvailable controls whether neural_combat is offered to the
	// reactive handler's action subset.
	CombatAvailable bool
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) publish(topic string, payload any) {
	if d.Bus == nil {
		return
	}
	d.Bus.Publish(topic, payload)
}

// GoalState is the mutable goal/steps-remaining pair threaded through a
// cycle.
type GoalState struct {
	Goal  string
	Steps int
}

// Strategic runs the strategic decision cycle.
type Strategic struct{ Deps }

// StrategicInput carries everything the strategic prompt needs beyond what
// Deps already holds.
type StrategicInput struct {
	Observation     string
	PendingChat     []string
	Goal            GoalState
	LastResult      string
	LeashWarning    string
	StashNote       string
	TraceID         string
}

// Run builds the strategic prompt, calls the strong model, parses the
// reply, and dispatches the resulting action. It returns the updated goal
// state (a returned goal sets a new goal and resets steps-remaining).
func (h Strategic) Run(ctx context.Context, in StrategicInput) (dispatch.Outcome, GoalState) {
	prompt := h.buildPrompt(in)
	reply, err := h.LLM.Complete(ctx, llm.TierStrong, []llm.Message{
		{Role: llm.RoleSystem, Content: h.systemPrompt()},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{Temperature: 0.7})
	if err != nil {
		h.logger().Warn("strategic_llm_failed", slog.String("err", err.Error()))
		h.showThought("Brain buffering...")
		return dispatch.Outcome{Action: "idle", Result: "idling (model unavailable)"}, in.Goal
	}

	d := ParseDecision(reply)
	goal := in.Goal
	if d.Goal != nil {
		goal = GoalState{Goal: *d.Goal, Steps: d.GoalSteps}
	}

	h.showThought(d.Thought)
	outcome := h.Dispatcher.Dispatch(ctx, in.TraceID, d.Action, d.Params)
	return outcome, goal
}

// showThought filters the decision's thought and writes it to the agent's
// bulletin row, where the stream overlay and operator view pick it up. The
// dispatcher's own bulletin write preserves it.
func (h Strategic) showThought(thought string) {
	if h.Bulletin == nil || thought == "" {
		return
	}
	cleaned := safety.FilterContent(h.Sanitizer, thought).Cleaned
	if cleaned == "" {
		return
	}
	entry, _ := h.Bulletin.Get(h.AgentName)
	entry.Agent = h.AgentName
	entry.Thought = cleaned
	h.Bulletin.Update(entry)
}

func (h Strategic) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are " + h.AgentName + ", an autonomous agent in a voxel world.\n")
	if h.Role.Personality != "" {
		b.WriteString("Personality: " + h.Role.Personality + "\n")
	}
	if h.Role.Priorities != "" {
		b.WriteString("Priorities: " + h.Role.Priorities + "\n")
	}
	b.WriteString("Allowed actions: " + strings.Join(h.Role.AllowedActions, ", ") + "\n")
	if len(h.Role.AllowedSkills) > 0 {
		b.WriteString("Allowed skills: " + strings.Join(h.Role.AllowedSkills, ", ") + "\n")
	}
	b.WriteString("Reply with a single JSON object: {\"thought\": \"...\", \"action\": \"...\", \"params\": {...}, \"goal\": \"...\" (optional), \"goal_steps\": N (optional)}.\n")
	return b.String()
}

func (h Strategic) buildPrompt(in StrategicInput) string {
	var b strings.Builder
	b.WriteString(in.Observation)
	b.WriteString("\n")

	if len(in.PendingChat) > 0 {
		b.WriteString("pending chat: " + strings.Join(in.PendingChat, " | ") + "\n")
	}
	if in.Goal.Goal != "" {
		fmt.Fprintf(&b, "current goal: %s (steps remaining: %d)\n", in.Goal.Goal, in.Goal.Steps)
	}
	if in.LastResult != "" {
		b.WriteString("last action result: " + in.LastResult + "\n")
	}
	if in.LeashWarning != "" {
		b.WriteString(in.LeashWarning + "\n")
	}
	if in.StashNote != "" {
		b.WriteString(in.StashNote + "\n")
	}

	if h.Bulletin != nil {
		if peers := h.Bulletin.PeersOf(h.AgentName); len(peers) > 0 {
			b.WriteString("teammates:\n")
			for _, p := range peers {
				fmt.Fprintf(&b, "  %s: %s at %d,%d,%d (health %d, food %d)\n", p.Agent, p.Action, p.X, p.Y, p.Z, p.Health, p.Food)
			}
		}
	}
	if h.Blacklist != nil {
		if lines := h.Blacklist.FormatDoNotRetry(); len(lines) > 0 {
			b.WriteString("do not retry:\n")
			for _, l := range lines {
				b.WriteString("  " + l + "\n")
			}
		}
	}
	return b.String()
}

// Reactive runs the reactive decision cycle.
type Reactive struct{ Deps }

// ReactiveInput is the short situational prompt passed to the fast model.
type ReactiveInput struct {
	ThreatKind     string
	ThreatDistance float64
	Health, Food   int
	Equipment      string
	FoodSummary    string
	TraceID        string
}

func (h Reactive) Run(ctx context.Context, in ReactiveInput) dispatch.Outcome {
	allowed := append([]string(nil), reactiveAllowed...)
	if h.CombatAvailable {
		allowed = append(allowed, "neural_combat")
	}

	situation := fmt.Sprintf("threat: %s at %.0f blocks. health %d/20, food %d/20. equipment: %s. food on hand: %s.",
		in.ThreatKind, in.ThreatDistance, in.Health, in.Food, in.Equipment, in.FoodSummary)
	prompt := situation + "\nAllowed actions: " + strings.Join(allowed, ", ") +
		".\nReply with a single JSON object: {\"thought\": \"...\", \"action\": \"...\"}."

	reply, err := h.LLM.Complete(ctx, llm.TierFast, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{Temperature: 0.1})
	if err != nil {
		h.logger().Warn("reactive_llm_failed", slog.String("err", err.Error()))
		return h.Dispatcher.Dispatch(ctx, in.TraceID, "flee", nil)
	}

	d := ParseDecision(reply)
	if !containsAction(allowed, d.Action) {
		d.Action = "flee"
		d.Params = nil
	}
	return h.Dispatcher.Dispatch(ctx, in.TraceID, d.Action, d.Params)
}

func containsAction(set []string, action string) bool {
	for _, a := range set {
		if a == action {
			return true
		}
	}
	return false
}

// Critic runs after every non-trivial action.
type Critic struct{ Deps }

// CriticInput is the post-action context fed to the critic prompt.
type CriticInput struct {
	LastAction string
	Result     string
	Goal       GoalState
	Health     int
	Food       int
	Inventory  string
	TraceID    string
}

// CriticOutcome reports what the critic decided and, if it chose to chain
// directly into another action, that action's outcome.
type CriticOutcome struct {
	Reply        CriticReply
	GoalComplete bool
	Chained      *dispatch.Outcome
	ReplanAfter  time.Duration
}

// Skip reports whether in.LastAction is exempt from critique.
func Skip(action string) bool {
	switch action {
	case "idle", "chat", "respond_to_chat":
		return true
	}
	return false
}

func (h Critic) Run(ctx context.Context, in CriticInput) CriticOutcome {
	prompt := fmt.Sprintf(
		"last action: %s\nresult: %s\ngoal: %s (steps remaining: %d)\nhealth: %d/20\nfood: %d/20\ninventory: %s\n"+
			"Reply with a single JSON object: {\"success\": bool, \"thought\": \"...\", \"next_action\": \"...\" (optional), \"next_params\": {...} (optional), \"goal_complete\": bool}.",
		in.LastAction, in.Result, in.Goal.Goal, in.Goal.Steps, in.Health, in.Food, in.Inventory,
	)
	reply, err := h.LLM.Complete(ctx, llm.TierFast, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{Temperature: 0.2})
	if err != nil {
		h.logger().Warn("critic_llm_failed", slog.String("err", err.Error()))
		return CriticOutcome{Reply: CriticReply{Success: true}, ReplanAfter: 500 * time.Millisecond}
	}

	cr := ParseCritic(reply)
	out := CriticOutcome{Reply: cr, GoalComplete: cr.GoalComplete}

	switch {
	case cr.GoalComplete:
		out.ReplanAfter = time.Second
	case cr.Success && cr.NextAction != "":
		outcome := h.Dispatcher.Dispatch(ctx, in.TraceID, cr.NextAction, cr.NextParams)
		out.Chained = &outcome
	case !cr.Success:
		out.ReplanAfter = 500 * time.Millisecond
	}
	return out
}

// Chat runs the chat-response cycle.
type Chat struct{ Deps }

// ChatInput is one inbound viewer message.
type ChatInput struct {
	Username string
	Text     string
	Activity string
}

// Run asks the fast model for a raw reply, filters it, speaks it,
// and publishes it to the bus. Returns the spoken text, or "" if the reply
// was filtered out entirely.
func (h Chat) Run(ctx context.Context, in ChatInput) string {
	prompt := fmt.Sprintf("You are %s. Current activity: %s.\n%s says: %s\nReply with a short, in-character chat message, plain text, no JSON.",
		h.AgentName, in.Activity, in.Username, in.Text)

	reply, err := h.LLM.Complete(ctx, llm.TierFast, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{Temperature: 0.8})
	if err != nil {
		h.logger().Warn("chat_llm_failed", slog.String("err", err.Error()))
		return ""
	}

	result := safety.FilterChatMessage(h.Sanitizer, reply)
	if result.Cleaned == "" {
		return ""
	}

	h.Dispatcher.Dispatch(ctx, "", "chat", map[string]any{"message": result.Cleaned})
	h.publish(bus.TopicChatResponded, bus.ChatReceivedEvent{Agent: h.AgentName, Username: h.AgentName, Text: result.Cleaned})
	return result.Cleaned
}
