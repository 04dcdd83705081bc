package handlers

import (
	"context"
	"testing"

	"github.com/basket/voxelbrain/internal/dispatch"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/llm"
	"github.com/basket/voxelbrain/internal/role"
	"github.com/basket/voxelbrain/internal/safety"
)

// fakeClient is a minimal gameclient.Client stub sufficient for the
// handler fallback paths exercised here (no LLM configured).
type fakeClient struct{}

func (fakeClient) Snapshot(ctx context.Context) (gameclient.Snapshot, error) {
	return gameclient.Snapshot{Position: gameclient.Vec3{X: 0, Y: 64, Z: 0}, Health: 20, Food: 20}, nil
}
func (fakeClient) BlockAt(ctx context.Context, pos gameclient.Vec3) (*gameclient.Block, error) {
	return nil, nil
}
func (fakeClient) FindNearestBlock(ctx context.Context, pred gameclient.BlockPredicate, maxDistance float64) (*gameclient.Vec3, error) {
	return nil, nil
}
func (fakeClient) FindBlocks(ctx context.Context, pred gameclient.BlockPredicate, maxCount int) ([]gameclient.Vec3, error) {
	return nil, nil
}
func (fakeClient) GoTo(ctx context.Context, goal gameclient.GoalSpec) error { return nil }
func (fakeClient) Dig(ctx context.Context, pos gameclient.Vec3) error       { return nil }
func (fakeClient) PlaceBlock(ctx context.Context, item string, face gameclient.Face) error {
	return nil
}
func (fakeClient) Craft(ctx context.Context, recipe string, count int, table *gameclient.Vec3) error {
	return nil
}
func (fakeClient) SendChat(ctx context.Context, text string) error       { return nil }
func (fakeClient) Teleport(ctx context.Context, pos gameclient.Vec3) error { return nil }
func (fakeClient) Events() <-chan gameclient.Event                        { return nil }

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	r := role.Role{
		Name:           "tester",
		AllowedActions: []string{"idle", "flee", "eat", "attack", "chat"},
	}
	d := &dispatch.Dispatcher{
		Role:      r,
		Client:    fakeClient{},
		Blacklist: failure.NewShortTermBlacklist(),
		AgentName: "tester",
	}
	return Deps{
		LLM:        llm.New(context.Background(), llm.Config{Provider: "google"}),
		Dispatcher: d,
		Role:       r,
		Sanitizer:  safety.NewSanitizer(),
		AgentName:  "tester",
	}
}

func TestStrategic_FallsBackToIdleWithoutModel(t *testing.T) {
	h := Strategic{newTestDeps(t)}
	outcome, goal := h.Run(context.Background(), StrategicInput{Observation: "position: 0,64,0", Goal: GoalState{}})
	if outcome.Action != "idle" {
		t.Fatalf("Action = %q, want idle", outcome.Action)
	}
	if goal.Goal != "" {
		t.Fatalf("goal should be unchanged, got %q", goal.Goal)
	}
}

func TestReactive_FallsBackToFleeWithoutModel(t *testing.T) {
	h := Reactive{newTestDeps(t)}
	outcome := h.Run(context.Background(), ReactiveInput{ThreatKind: "zombie", ThreatDistance: 4, Health: 10, Food: 15})
	if outcome.Action != "flee" {
		t.Fatalf("Action = %q, want flee", outcome.Action)
	}
}

func TestCritic_FallsBackToSuccessWithReplan(t *testing.T) {
	h := Critic{newTestDeps(t)}
	out := h.Run(context.Background(), CriticInput{LastAction: "mine_block", Result: "mined stone"})
	if !out.Reply.Success {
		t.Fatalf("expected fallback success=true")
	}
	if out.ReplanAfter == 0 {
		t.Fatalf("expected a replan delay on the fallback path")
	}
}

func TestChat_ReturnsEmptyWithoutModel(t *testing.T) {
	h := Chat{newTestDeps(t)}
	if got := h.Run(context.Background(), ChatInput{Username: "viewer1", Text: "hi", Activity: "mining"}); got != "" {
		t.Fatalf("Run() = %q, want empty on model failure", got)
	}
}

func TestSkip(t *testing.T) {
	cases := map[string]bool{"idle": true, "chat": true, "respond_to_chat": true, "mine_block": false, "attack": false}
	for action, want := range cases {
		if got := Skip(action); got != want {
			t.Errorf("Skip(%q) = %v, want %v", action, got, want)
		}
	}
}
