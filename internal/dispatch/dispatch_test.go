package dispatch

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/executor"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/gameclient/fake"
	"github.com/basket/voxelbrain/internal/memory"
	"github.com/basket/voxelbrain/internal/role"
	"github.com/basket/voxelbrain/internal/skill"
	"github.com/basket/voxelbrain/internal/skills/builtin"
)

func newTestDispatcher(t *testing.T, client *fake.Client) *Dispatcher {
	t.Helper()
	mem, err := memory.Open(filepath.Join(t.TempDir(), "memory.json"))
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	reg := skill.NewRegistry(builtin.All()...)
	exec := executor.New("tester", reg, mem, nil, nil, nil)
	return &Dispatcher{
		Role: role.Role{
			Name:           "tester",
			AllowedActions: []string{"go_to", "explore", "gather_wood", "mine_block", "craft", "place_block", "build_shelter", "attack", "invoke_skill", "generate_skill", "neural_combat"},
			AllowedSkills:  []string{"build_farm", "build_house", "craftBed", "fish", "light_area"},
		},
		Client:    client,
		Blacklist: failure.NewShortTermBlacklist(),
		Memory:    mem,
		Bulletin:  bulletin.New(nil),
		Executor:  exec,
		Registry:  reg,
		AgentName: "tester",
	}
}

func TestGoTo_DistanceBoundary(t *testing.T) {
	client := fake.New()
	client.Snap.Position = gameclient.Vec3{X: 0, Y: 64, Z: 0}
	d := newTestDispatcher(t, client)

	out := d.Dispatch(context.Background(), "", "go_to", map[string]any{"x": 200, "y": 64, "z": 0})
	if !strings.Contains(out.Result, "exceeds the 200 block limit") {
		t.Fatalf("distance 200 should be rejected, got %q", out.Result)
	}

	out = d.Dispatch(context.Background(), "", "go_to", map[string]any{"x": 199, "y": 64, "z": 0})
	if !strings.Contains(out.Result, "arrived") {
		t.Fatalf("distance 199 should be accepted, got %q", out.Result)
	}
	if !out.Success {
		t.Fatalf("arrival should classify as success")
	}
}

func TestGoTo_AlreadyHere(t *testing.T) {
	client := fake.New()
	client.Snap.Position = gameclient.Vec3{X: 0, Y: 64, Z: 0}
	d := newTestDispatcher(t, client)

	out := d.Dispatch(context.Background(), "", "go_to", map[string]any{"x": 1, "y": 64, "z": 0})
	if out.Result != "Already here!" {
		t.Fatalf("Result = %q", out.Result)
	}
}

func TestDispatch_GatesDisallowedAction(t *testing.T) {
	d := newTestDispatcher(t, fake.New())
	out := d.Dispatch(context.Background(), "", "dance", nil)
	if !out.Blocked || !strings.Contains(out.Result, "not allowed for tester") {
		t.Fatalf("out = %+v", out)
	}
}

func TestDispatch_UniversalActionsAlwaysAllowed(t *testing.T) {
	d := newTestDispatcher(t, fake.New())
	d.Role.AllowedActions = nil
	out := d.Dispatch(context.Background(), "", "idle", nil)
	if out.Blocked {
		t.Fatalf("idle is universal, got %+v", out)
	}
}

func TestDispatch_UnknownActionBlacklistedImmediately(t *testing.T) {
	d := newTestDispatcher(t, fake.New())
	d.Role.AllowedActions = append(d.Role.AllowedActions, "moonwalk")

	out := d.Dispatch(context.Background(), "", "moonwalk", nil)
	if out.Result != "Unknown action: moonwalk" {
		t.Fatalf("Result = %q", out.Result)
	}
	if blocked, _ := d.Blacklist.Check("moonwalk"); !blocked {
		t.Fatalf("unknown action should be blacklisted after one attempt")
	}

	out = d.Dispatch(context.Background(), "", "moonwalk", nil)
	if !out.Blocked {
		t.Fatalf("second attempt should be blocked pre-execution, got %+v", out)
	}
}

func TestDispatch_BlacklistBlocksBeforeExecution(t *testing.T) {
	client := fake.New()
	d := newTestDispatcher(t, client)

	// Two consecutive gather_wood failures in a treeless world: the first
	// records a soft no-trees entry immediately.
	out := d.Dispatch(context.Background(), "", "gather_wood", map[string]any{"count": 2})
	if out.Success {
		t.Fatalf("gather_wood should fail with no trees, got %q", out.Result)
	}

	out = d.Dispatch(context.Background(), "", "gather_wood", map[string]any{"count": 2})
	if !out.Blocked || !strings.Contains(out.Result, "Blocked:") {
		t.Fatalf("out = %+v", out)
	}
	if len(client.Dug) != 0 {
		t.Fatalf("blocked action must never reach the client")
	}
}

func TestDispatch_BuildFarmWaterReprieve(t *testing.T) {
	client := fake.New()
	// Materials on hand, so the executor skips the gathering sub-phase and
	// the skill itself reports the missing-water precondition.
	client.Snap.Inventory = []gameclient.ItemStack{{Name: "wheat_seeds", Count: 9}}
	d := newTestDispatcher(t, client)

	out := d.Dispatch(context.Background(), "", "build_farm", nil)
	if out.Success {
		t.Fatalf("build_farm should fail without water, got %q", out.Result)
	}
	key := failure.SkillKey("build_farm")
	if blocked, msg := d.Blacklist.Check(key); !blocked || !strings.Contains(msg, "No water within 96 blocks") {
		t.Fatalf("blocked=%v msg=%q", blocked, msg)
	}

	if out := d.Dispatch(context.Background(), "", "build_farm", nil); !out.Blocked {
		t.Fatalf("still no water: expected block, got %+v", out)
	}

	// Water appears; the at-dispatch reprieve clears the entry and the
	// skill runs.
	client.Blocks[gameclient.Vec3{X: 10, Y: 63, Z: 4}] = gameclient.Block{Name: "water"}
	out = d.Dispatch(context.Background(), "", "build_farm", nil)
	if out.Blocked {
		t.Fatalf("reprieve should clear the entry, got %+v", out)
	}
	if !out.Success || !strings.Contains(out.Result, "wheat farm") {
		t.Fatalf("out = %+v", out)
	}
	if blocked, _ := d.Blacklist.Check(key); blocked {
		t.Fatalf("entry should be gone after the successful run")
	}
}

func TestDispatch_PersistentBrokenSkillRejected(t *testing.T) {
	d := newTestDispatcher(t, fake.New())
	if err := d.Memory.MarkSkillBroken("fish"); err != nil {
		t.Fatalf("MarkSkillBroken: %v", err)
	}

	out := d.Dispatch(context.Background(), "", "invoke_skill", map[string]any{"skill": "fish"})
	if !out.Blocked || !strings.Contains(out.Result, "marked broken") {
		t.Fatalf("out = %+v", out)
	}

	out = d.Dispatch(context.Background(), "", "fish", nil)
	if !out.Blocked {
		t.Fatalf("direct name dispatch must also consult the broken ledger, got %+v", out)
	}
}

func TestDispatch_SuccessBookkeeping(t *testing.T) {
	client := fake.New()
	client.Blocks[gameclient.Vec3{X: 4, Y: 64, Z: 0}] = gameclient.Block{Name: "oak_log", Diggable: true}
	d := newTestDispatcher(t, client)
	steps := 3
	d.GoalStepsRemaining = &steps

	out := d.Dispatch(context.Background(), "", "gather_wood", map[string]any{"count": 1})
	if !out.Success || !strings.Contains(out.Result, "chopped") {
		t.Fatalf("out = %+v", out)
	}
	if steps != 2 {
		t.Fatalf("goal steps = %d, want 2", steps)
	}
	entry, ok := d.Bulletin.Get("tester")
	if !ok || entry.Action != "gather_wood" {
		t.Fatalf("bulletin entry = %+v ok=%v", entry, ok)
	}
	if entry.X != 4 || entry.Y != 64 {
		t.Fatalf("bulletin should carry the latest position, got %+v", entry)
	}
	if entry.UpdatedAt.IsZero() {
		t.Fatalf("bulletin timestamp not set")
	}
}

// parkedSkill blocks in Execute until released.
type parkedSkill struct {
	started chan struct{}
	release chan struct{}
}

func (s *parkedSkill) Name() string        { return "slow" }
func (s *parkedSkill) Description() string { return "parks until released" }
func (s *parkedSkill) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return nil, nil
}
func (s *parkedSkill) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	close(s.started)
	select {
	case <-ctx.Done():
		return skill.Result{}, ctx.Err()
	case <-s.release:
		return skill.Result{Success: true, Message: "slow completed"}, nil
	}
}

func TestDispatch_AlreadyRunningNotCountedAsFailure(t *testing.T) {
	client := fake.New()
	d := newTestDispatcher(t, client)

	slow := &parkedSkill{started: make(chan struct{}), release: make(chan struct{})}
	mem := d.Memory
	reg := skill.NewRegistry(append(builtin.All(), slow)...)
	d.Registry = reg
	d.Executor = executor.New("tester", reg, mem, nil, nil, nil)
	d.Role.AllowedSkills = append(d.Role.AllowedSkills, "slow")

	done := make(chan Outcome, 1)
	go func() {
		done <- d.Dispatch(context.Background(), "", "invoke_skill", map[string]any{"skill": "slow"})
	}()
	<-slow.started

	// The refusal is neither a success nor a failure of the requested skill.
	out := d.Dispatch(context.Background(), "", "invoke_skill", map[string]any{"skill": "fish"})
	if out.Result != "Already running skill slow" {
		t.Fatalf("Result = %q", out.Result)
	}
	if out.Success {
		t.Fatalf("refusal must not classify as success")
	}
	if blocked, _ := d.Blacklist.Check(failure.SkillKey("fish")); blocked {
		t.Fatalf("refusal must not feed the blacklist counter")
	}

	close(slow.release)
	if first := <-done; !first.Success {
		t.Fatalf("first dispatch = %+v", first)
	}
}

func TestCraft_AliasAndSuccess(t *testing.T) {
	client := fake.New()
	d := newTestDispatcher(t, client)

	out := d.Dispatch(context.Background(), "", "craft", map[string]any{"item": "planks", "count": 2})
	if !out.Success || !strings.Contains(out.Result, "crafted 2 oak_planks") {
		t.Fatalf("out = %+v", out)
	}
	if out.CanonKey != failure.CraftKey("planks") {
		t.Fatalf("CanonKey = %q", out.CanonKey)
	}
}

func TestCraft_UnknownRecipeReportsMissing(t *testing.T) {
	d := newTestDispatcher(t, fake.New())
	out := d.Dispatch(context.Background(), "", "craft", map[string]any{"item": "beacon"})
	if out.Success || !strings.Contains(out.Result, "missing:") {
		t.Fatalf("out = %+v", out)
	}
	// The structured missing message becomes a soft blacklist entry at once.
	if blocked, msg := d.Blacklist.Check(failure.CraftKey("beacon")); !blocked || !strings.Contains(msg, "Missing materials") {
		t.Fatalf("blocked=%v msg=%q", blocked, msg)
	}
}

func TestEat_RefusesWhenFull(t *testing.T) {
	client := fake.New()
	client.Snap.Food = 20
	d := newTestDispatcher(t, client)
	out := d.Dispatch(context.Background(), "", "eat", nil)
	if out.Result != "not hungry, food already full" {
		t.Fatalf("Result = %q", out.Result)
	}
}

func TestEat_SelectsFromWhitelist(t *testing.T) {
	client := fake.New()
	client.Snap.Food = 8
	client.Snap.Inventory = []gameclient.ItemStack{{Name: "cobblestone", Count: 12}, {Name: "bread", Count: 2}}
	d := newTestDispatcher(t, client)
	out := d.Dispatch(context.Background(), "", "eat", nil)
	if out.Result != "ate bread" || !out.Success {
		t.Fatalf("out = %+v", out)
	}
}

func TestSleep_NotNighttimeIsDistinctResult(t *testing.T) {
	client := fake.New()
	client.Snap.Tick = 6000
	d := newTestDispatcher(t, client)
	out := d.Dispatch(context.Background(), "", "sleep", nil)
	if !strings.Contains(out.Result, "not nighttime") {
		t.Fatalf("Result = %q", out.Result)
	}
}

func TestAttack_NearestHostilePreferred(t *testing.T) {
	client := fake.New()
	client.Snap.Entities = []gameclient.Entity{
		{Name: "zombie", Type: "hostile", Distance: 12, Position: gameclient.Vec3{X: 12, Y: 64}},
		{Name: "skeleton", Type: "hostile", Distance: 5, Position: gameclient.Vec3{X: 5, Y: 64}},
		{Name: "sheep", Type: "passive", Distance: 2, Position: gameclient.Vec3{X: 2, Y: 64}},
	}
	d := newTestDispatcher(t, client)
	out := d.Dispatch(context.Background(), "", "attack", nil)
	if out.Result != "killed skeleton" {
		t.Fatalf("Result = %q", out.Result)
	}
}

func TestDispatch_StashParameterInjection(t *testing.T) {
	client := fake.New()
	client.Blocks[gameclient.Vec3{X: 41, Y: 64, Z: 8}] = gameclient.Block{Name: "chest"}
	d := newTestDispatcher(t, client)
	d.Role.Stash = &role.Anchor{X: 40, Y: 64, Z: 8}
	d.Role.KeepItems = []role.KeepItem{{Pattern: "bread", MinQty: 4}}
	d.Role.AllowedSkills = append(d.Role.AllowedSkills, "deposit_stash")
	client.Snap.Inventory = []gameclient.ItemStack{{Name: "bread", Count: 6}, {Name: "dirt", Count: 20}}

	out := d.Dispatch(context.Background(), "", "deposit_stash", nil)
	if !out.Success || !strings.Contains(out.Result, "deposited 22 items") {
		t.Fatalf("out = %+v", out)
	}
	if out.CanonKey != failure.SkillKey("deposit_stash") {
		t.Fatalf("CanonKey = %q", out.CanonKey)
	}
}

func TestCanonicalKey(t *testing.T) {
	d := newTestDispatcher(t, fake.New())
	cases := []struct {
		action string
		params map[string]any
		want   string
	}{
		{"invoke_skill", map[string]any{"skill": "craftBed"}, "skill:craftBed"},
		{"craft", map[string]any{"item": "torch"}, "craft:torch"},
		{"go_to", map[string]any{"x": 10, "z": -4}, "go_to:10,-4"},
		{"build_farm", nil, "skill:build_farm"},
		{"explore", nil, "explore"},
	}
	for _, tc := range cases {
		if got := d.canonicalKey(tc.action, tc.params); got != tc.want {
			t.Errorf("canonicalKey(%q) = %q, want %q", tc.action, got, tc.want)
		}
	}
}
