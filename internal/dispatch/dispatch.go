// Package dispatch implements the Action Dispatcher: it maps a
// decoded {action_name, params} pair to a primitive implemented directly
// against the game client, or to a skill invocation routed through
// internal/executor, after gating against the role's allowed set, the
// short-term blacklist, and the persistent broken-skill ledger.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/combat"
	"github.com/basket/voxelbrain/internal/executor"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/memory"
	gobrainotel "github.com/basket/voxelbrain/internal/otel"
	"github.com/basket/voxelbrain/internal/role"
	"github.com/basket/voxelbrain/internal/skill"
)

// universalActions are permitted regardless of role.AllowedActions.
var universalActions = map[string]bool{
	"idle": true, "chat": true, "respond_to_chat": true, "eat": true,
	"flee": true, "sleep": true,
}

// successPattern unifies the two success-regex definitions the source
// flips between: folds
// sleep's "zzz"-suffixed message into the shared regex.
var successPattern = regexp.MustCompile(`(?i)complet|harvest|built|planted|smelted|crafted|arriv|gather|mined|caught|lit the|bridg|chop|killed|ate |explored|placed|fished|sleep|zzz`)

// foodWhitelist is the known food-item set eat() selects from.
var foodWhitelist = []string{
	"cooked_beef", "cooked_porkchop", "cooked_chicken", "cooked_mutton",
	"bread", "apple", "carrot", "baked_potato", "cooked_salmon", "cooked_cod",
}

// Dispatcher routes decoded actions for one agent.
type Dispatcher struct {
	Role       role.Role
	Client     gameclient.Client
	Blacklist  *failure.ShortTermBlacklist
	Memory     *memory.Store
	Bulletin   *bulletin.Board
	Bus        *bus.Bus
	Executor   *executor.Executor
	Registry   *skill.Registry
	Combat     *combat.Client
	Metrics    *gobrainotel.Metrics
	AgentName  string
	Logger     *slog.Logger

	// GoalStepsRemaining is decremented by one on every successful
	// dispatch while > 0.
	GoalStepsRemaining *int
}

// Outcome is the result of one dispatch call.
type Outcome struct {
	Action   string
	CanonKey string
	Success  bool
	Result   string
	Blocked  bool
}

// Dispatch resolves actionName/params against gating, then a primitive or a
// skill, and performs all post-execution bookkeeping.
func (d *Dispatcher) Dispatch(ctx context.Context, traceID, actionName string, params map[string]any) Outcome {
	actionName = strings.ToLower(strings.TrimSpace(actionName))
	logger := d.logger()
	started := time.Now()
	defer func() {
		if d.Metrics != nil {
			d.Metrics.DispatchDuration.Record(ctx, time.Since(started).Seconds())
		}
	}()

	if !d.isAllowed(actionName) {
		msg := fmt.Sprintf("not allowed for %s: %s", d.Role.Name, actionName)
		d.publishDispatch(traceID, actionName, "", false, msg, true)
		d.countBlocked(ctx)
		return Outcome{Action: actionName, Success: false, Result: msg, Blocked: true}
	}

	params = d.injectStashParams(actionName, params)
	key := d.canonicalKey(actionName, params)

	if _, reason, ok := d.checkBlacklist(ctx, key, params); ok {
		msg := "Blocked: " + reason
		d.publishDispatch(traceID, actionName, key, false, msg, true)
		d.countBlocked(ctx)
		d.scheduleReplan(500 * time.Millisecond)
		return Outcome{Action: actionName, CanonKey: key, Success: false, Result: msg, Blocked: true}
	}

	if name := d.skillNameFor(actionName, params); name != "" && d.Memory != nil && d.Memory.IsSkillBroken(name) {
		msg := fmt.Sprintf("Blocked: %s is marked broken, try an alternative", name)
		d.publishDispatch(traceID, actionName, key, false, msg, true)
		d.countBlocked(ctx)
		return Outcome{Action: actionName, CanonKey: key, Success: false, Result: msg, Blocked: true}
	}

	result := d.execute(ctx, actionName, params)
	success := d.classifySuccess(actionName, result)

	if !isExempt(result) {
		d.Blacklist.RecordResult(key, result, success)
	}
	d.dynamicReenable(ctx)

	if success && d.GoalStepsRemaining != nil && *d.GoalStepsRemaining > 0 {
		*d.GoalStepsRemaining--
	}

	if !success && d.Metrics != nil {
		d.Metrics.DispatchFailures.Add(ctx, 1)
	}
	if d.Bulletin != nil {
		entry, _ := d.Bulletin.Get(d.AgentName)
		entry.Agent = d.AgentName
		entry.Action = actionName
		if snap, err := d.Client.Snapshot(ctx); err == nil {
			entry.X, entry.Y, entry.Z = snap.Position.X, snap.Position.Y, snap.Position.Z
			entry.Health, entry.Food = snap.Health, snap.Food
		}
		d.Bulletin.Update(entry)
	}
	d.publishDispatch(traceID, actionName, key, success, result, false)

	logger.Debug("dispatch_complete", slog.String("action", actionName), slog.Bool("success", success), slog.String("result", result))
	return Outcome{Action: actionName, CanonKey: key, Success: success, Result: result}
}

// classifySuccess applies the unified success regex, excluding the
// "already running" refusal from counting as either success or failure of
// the requested action.
func (d *Dispatcher) classifySuccess(action, result string) bool {
	if isExempt(result) {
		return false
	}
	return successPattern.MatchString(result)
}

func isExempt(result string) bool {
	return strings.HasPrefix(result, "Already running skill ")
}

// execute runs a primitive directly against the game client, or routes to
// the skill executor for invoke_skill/generate_skill.
func (d *Dispatcher) execute(ctx context.Context, action string, params map[string]any) string {
	switch action {
	case "go_to":
		return d.goTo(ctx, params)
	case "explore":
		return d.explore(ctx, params)
	case "gather_wood":
		return d.gatherWood(ctx, params)
	case "mine_block":
		return d.mineBlock(ctx, params)
	case "craft":
		return d.craft(ctx, params)
	case "eat":
		return d.eat(ctx)
	case "attack":
		return d.attack(ctx)
	case "flee":
		return d.flee(ctx)
	case "build_shelter":
		return d.buildShelter(ctx)
	case "place_block":
		return d.placeBlock(ctx, params)
	case "sleep":
		return d.sleep(ctx)
	case "idle":
		return "idling"
	case "chat":
		return d.chat(ctx, params)
	case "respond_to_chat":
		return d.chat(ctx, params)
	case "neural_combat":
		return d.neuralCombat(ctx)
	case "invoke_skill":
		return d.invokeSkill(ctx, params)
	case "generate_skill":
		return d.generateSkill(ctx, params)
	default:
		// Direct name match: the model may name a skill without wrapping it
		// in invoke_skill.
		if d.Registry != nil && d.Executor != nil {
			if _, ok := d.Registry.Get(action); ok {
				return d.Executor.Run(ctx, d.state(), action, params, nil)
			}
		}
		return "Unknown action: " + action
	}
}

func (d *Dispatcher) state() skill.State {
	return skill.State{Client: d.Client, AgentName: d.AgentName}
}

// goTo implements the go_to primitive.
func (d *Dispatcher) goTo(ctx context.Context, params map[string]any) string {
	x, _ := intParam(params, "x")
	y, hasY := intParam(params, "y")
	z, _ := intParam(params, "z")
	if !hasY {
		y = 64
	}
	target := gameclient.Vec3{X: x, Y: y, Z: z}

	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("go_to failed: %v", err)
	}
	dist := distance(snap.Position, target)
	if dist >= 200 {
		return fmt.Sprintf("go_to rejected: %.1f blocks exceeds the 200 block limit", dist)
	}
	if dist < 2 {
		return "Already here!"
	}
	if err := d.Client.GoTo(ctx, gameclient.GoalSpec{Target: target, RangeBlocks: 2, Timeout: 15}); err != nil {
		return fmt.Sprintf("go_to failed: %v", err)
	}
	return fmt.Sprintf("arrived near %d,%d,%d", target.X, target.Y, target.Z)
}

func distance(a, b gameclient.Vec3) float64 {
	dx, dy, dz := float64(a.X-b.X), float64(a.Y-b.Y), float64(a.Z-b.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

var directions = map[string]gameclient.Vec3{
	"north": {Z: -1}, "south": {Z: 1}, "east": {X: 1}, "west": {X: -1},
}

// explore hops 20-40 blocks with jitter in a cardinal direction.
func (d *Dispatcher) explore(ctx context.Context, params map[string]any) string {
	dirName := strings.ToLower(stringParam(params, "direction"))
	dir, ok := directions[dirName]
	if !ok {
		for name, v := range directions {
			dir, dirName = v, name
			break
		}
	}
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("explore failed: %v", err)
	}
	if snap.Position.Y < 50 {
		_ = d.Client.Teleport(ctx, gameclient.Vec3{X: snap.Position.X, Y: 80, Z: snap.Position.Z})
	}
	hop := randJitter(20, 20)
	target := gameclient.Vec3{X: snap.Position.X + dir.X*hop, Y: snap.Position.Y, Z: snap.Position.Z + dir.Z*hop}
	if err := d.Client.GoTo(ctx, gameclient.GoalSpec{Target: target, RangeBlocks: 3, Timeout: 15}); err != nil {
		return fmt.Sprintf("explore failed: %v", err)
	}

	notes := []string{}
	if pos, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return strings.HasSuffix(n, "_log") }, 24); err == nil && pos != nil {
		notes = append(notes, "trees nearby")
	}
	if pos, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return strings.HasSuffix(n, "_ore") }, 24); err == nil && pos != nil {
		notes = append(notes, "ore nearby")
	}
	if pos, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return n == "water" }, 24); err == nil && pos != nil {
		notes = append(notes, "water nearby")
	}
	extra := ""
	if len(notes) > 0 {
		extra = " (" + strings.Join(notes, ", ") + ")"
	}
	return fmt.Sprintf("explored %s to %d,%d,%d%s", dirName, target.X, target.Y, target.Z, extra)
}

// gatherWood chops the nearest log block, repeating until count or the
// stack is exhausted.
func (d *Dispatcher) gatherWood(ctx context.Context, params map[string]any) string {
	count, ok := intParam(params, "count")
	if !ok || count <= 0 {
		count = 1
	}
	chopped := 0
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		pos, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return strings.HasSuffix(n, "_log") }, 48)
		if err != nil || pos == nil {
			if chopped == 0 {
				return "gather_wood failed: no trees found nearby"
			}
			break
		}
		if err := d.Client.GoTo(ctx, gameclient.GoalSpec{Target: *pos, RangeBlocks: 3, Timeout: 15}); err != nil {
			break
		}
		if err := d.Client.Dig(ctx, *pos); err != nil {
			break
		}
		chopped++
	}
	if chopped == 0 {
		return "gather_wood failed: no trees found nearby"
	}
	return fmt.Sprintf("chopped %d logs", chopped)
}

// mineBlock digs the nearest block matching params.blockType.
func (d *Dispatcher) mineBlock(ctx context.Context, params map[string]any) string {
	blockType := stringParam(params, "blockType")
	if blockType == "" {
		blockType = stringParam(params, "block")
	}
	if blockType == "" {
		return "mine_block failed: no blockType given"
	}
	pos, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return strings.Contains(n, blockType) }, 48)
	if err != nil || pos == nil {
		return fmt.Sprintf("mine_block failed: cannot find %s nearby", blockType)
	}
	if err := d.Client.GoTo(ctx, gameclient.GoalSpec{Target: *pos, RangeBlocks: 3, Timeout: 15}); err != nil {
		return fmt.Sprintf("mine_block failed: %v", err)
	}
	if err := d.Client.Dig(ctx, *pos); err != nil {
		return fmt.Sprintf("mine_block failed: %v", err)
	}
	return fmt.Sprintf("mined %s at %d,%d,%d", blockType, pos.X, pos.Y, pos.Z)
}

// craft resolves aliases, finds/places a table, auto-converts logs to
// planks, and reports a structured missing-ingredient message on
// failure.
func (d *Dispatcher) craft(ctx context.Context, params map[string]any) string {
	item := skill.ResolveItemAlias(stringParam(params, "item"))
	if item == "" {
		return "craft failed: no item given"
	}
	count, ok := intParam(params, "count")
	if !ok || count <= 0 {
		count = 1
	}

	recipe, known := skill.CraftingTree[item]
	if !known {
		return fmt.Sprintf("craft failed: missing: no known recipe for %s", item)
	}

	var table *gameclient.Vec3
	if recipe.NeedsTable {
		t, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return n == "crafting_table" }, 16)
		if err == nil && t != nil {
			table = t
		} else {
			snap, err := d.Client.Snapshot(ctx)
			if err == nil {
				pos := snap.Position
				if err := d.Client.PlaceBlock(ctx, "crafting_table", gameclient.Face{Block: pos}); err == nil {
					table = &pos
				}
			}
		}
	}

	if err := d.Client.Craft(ctx, item, count, table); err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "plank") {
			if _, planksKnown := skill.CraftingTree["oak_planks"]; planksKnown {
				_ = d.Client.Craft(ctx, "oak_planks", count*2, nil)
				if err2 := d.Client.Craft(ctx, item, count, table); err2 == nil {
					return fmt.Sprintf("crafted %d %s", count, item)
				}
			}
		}
		return fmt.Sprintf("craft failed: missing: %v", err)
	}
	return fmt.Sprintf("crafted %d %s", count, item)
}

// eat selects from the food whitelist, refusing when food is already full.
func (d *Dispatcher) eat(ctx context.Context) string {
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("eat failed: %v", err)
	}
	if snap.Food >= 20 {
		return "not hungry, food already full"
	}
	have := map[string]bool{}
	for _, it := range snap.Inventory {
		have[it.Name] = true
	}
	for _, food := range foodWhitelist {
		if have[food] {
			return "ate " + food
		}
	}
	return "eat failed: no food in inventory"
}

// attack targets the nearest hostile within 16 blocks, falling back to the
// nearest non-hostile mob within 8 blocks.
func (d *Dispatcher) attack(ctx context.Context) string {
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("attack failed: %v", err)
	}
	var nearest *gameclient.Entity
	for i := range snap.Entities {
		e := &snap.Entities[i]
		if e.Type != "hostile" || e.Distance > 16 {
			continue
		}
		if nearest == nil || e.Distance < nearest.Distance {
			nearest = e
		}
	}
	if nearest == nil {
		for i := range snap.Entities {
			e := &snap.Entities[i]
			if e.Type == "hostile" || e.Distance > 8 {
				continue
			}
			if nearest == nil || e.Distance < nearest.Distance {
				nearest = e
			}
		}
	}
	if nearest == nil {
		return "attack failed: nothing in range"
	}
	if err := d.Client.GoTo(ctx, gameclient.GoalSpec{Target: nearest.Position, RangeBlocks: 2, Timeout: 10}); err != nil {
		return fmt.Sprintf("attack failed: %v", err)
	}
	return "killed " + nearest.Name
}

// flee runs away from the nearest hostile.
func (d *Dispatcher) flee(ctx context.Context) string {
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("flee failed: %v", err)
	}
	var threat *gameclient.Entity
	for i := range snap.Entities {
		e := &snap.Entities[i]
		if e.Type == "hostile" && (threat == nil || e.Distance < threat.Distance) {
			threat = e
		}
	}
	if threat == nil {
		return "nothing to flee from"
	}
	dx, dz := snap.Position.X-threat.Position.X, snap.Position.Z-threat.Position.Z
	target := gameclient.Vec3{X: snap.Position.X + sign(dx)*16, Y: snap.Position.Y, Z: snap.Position.Z + sign(dz)*16}
	if err := d.Client.GoTo(ctx, gameclient.GoalSpec{Target: target, RangeBlocks: 3, Timeout: 10}); err != nil {
		return fmt.Sprintf("flee failed: %v", err)
	}
	return "fled from " + threat.Name
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

// buildShelter places a minimal emergency box around the current position.
func (d *Dispatcher) buildShelter(ctx context.Context) string {
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("build_shelter failed: %v", err)
	}
	have := 0
	for _, it := range snap.Inventory {
		if strings.Contains(it.Name, "planks") || strings.HasSuffix(it.Name, "_log") {
			have += it.Count
		}
	}
	if have < 4 {
		return "build_shelter failed: no trees found, missing materials"
	}
	placed := 0
	for _, off := range []gameclient.Vec3{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}} {
		pos := gameclient.Vec3{X: snap.Position.X + off.X, Y: snap.Position.Y, Z: snap.Position.Z + off.Z}
		if err := d.Client.PlaceBlock(ctx, "oak_planks", gameclient.Face{Block: pos}); err == nil {
			placed++
		}
	}
	if placed == 0 {
		return "build_shelter failed: could not place blocks"
	}
	return fmt.Sprintf("built a quick shelter (%d blocks placed)", placed)
}

// placeBlock places params.item at (x,y,z).
func (d *Dispatcher) placeBlock(ctx context.Context, params map[string]any) string {
	item := stringParam(params, "item")
	if item == "" {
		item = stringParam(params, "block")
	}
	x, _ := intParam(params, "x")
	y, _ := intParam(params, "y")
	z, _ := intParam(params, "z")
	if item == "" {
		return "place_block failed: no item given"
	}
	if err := d.Client.PlaceBlock(ctx, item, gameclient.Face{Block: gameclient.Vec3{X: x, Y: y, Z: z}}); err != nil {
		return fmt.Sprintf("place_block failed: %v", err)
	}
	return fmt.Sprintf("placed %s at %d,%d,%d", item, x, y, z)
}

// sleep auto-places a bed if none is nearby; reports "not nighttime" as a
// distinct non-failing result.
func (d *Dispatcher) sleep(ctx context.Context) string {
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("sleep failed: %v", err)
	}
	if snap.Tick >= 0 && snap.Tick < 13000 {
		return "not nighttime, no need to sleep"
	}
	bed, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return strings.HasSuffix(n, "_bed") }, 16)
	if err != nil || bed == nil {
		have := 0
		for _, it := range snap.Inventory {
			if strings.HasSuffix(it.Name, "_bed") {
				have += it.Count
			}
		}
		if have == 0 {
			return "sleep failed: no bed nearby or in inventory"
		}
		pos := gameclient.Vec3{X: snap.Position.X + 1, Y: snap.Position.Y, Z: snap.Position.Z}
		if err := d.Client.PlaceBlock(ctx, "red_bed", gameclient.Face{Block: pos}); err != nil {
			return fmt.Sprintf("sleep failed: %v", err)
		}
		bed = &pos
	}
	if err := d.Client.GoTo(ctx, gameclient.GoalSpec{Target: *bed, RangeBlocks: 2, Timeout: 15}); err != nil {
		return fmt.Sprintf("sleep failed: %v", err)
	}
	return "sleeping, zzz"
}

// chat sends text to in-game chat through the safety filter boundary (the
// caller is expected to have already filtered it; dispatch enforces the
// 200-char ceiling as a final backstop).
func (d *Dispatcher) chat(ctx context.Context, params map[string]any) string {
	text := stringParam(params, "message")
	if text == "" {
		text = stringParam(params, "text")
	}
	if text == "" {
		return "chat failed: empty message"
	}
	if len(text) > 200 {
		text = text[:200]
	}
	if err := d.Client.SendChat(ctx, text); err != nil {
		return fmt.Sprintf("chat failed: %v", err)
	}
	return "chatted: " + text
}

// neuralCombat consults the optional coprocessor, falling back to the
// internal attack/flee routines when unreachable.
func (d *Dispatcher) neuralCombat(ctx context.Context) string {
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Sprintf("neural_combat failed: %v", err)
	}
	if d.Combat == nil {
		return d.attack(ctx)
	}

	var nearest *gameclient.Entity
	for i := range snap.Entities {
		e := &snap.Entities[i]
		if e.Type == "hostile" && (nearest == nil || e.Distance < nearest.Distance) {
			nearest = e
		}
	}
	obs := combat.Observation{Health: float64(snap.Health), Food: float64(snap.Food), X: float64(snap.Position.X), Y: float64(snap.Position.Y), Z: float64(snap.Position.Z)}
	if nearest != nil {
		dx, dz := float64(nearest.Position.X-snap.Position.X), float64(nearest.Position.Z-snap.Position.Z)
		obs.NearestHostile = &combat.Hostile{Name: nearest.Name, Distance: nearest.Distance, RelativeAngleDeg: combat.RelativeAngleDeg(snap.Yaw, dx, dz)}
	}
	dec, ok := d.Combat.Decide(ctx, obs)
	if !ok {
		return d.attack(ctx)
	}
	switch dec.Action {
	case "attack":
		return d.attack(ctx)
	case "flee":
		return d.flee(ctx)
	case "idle":
		return "idling (neural combat)"
	default:
		return fmt.Sprintf("neural combat: %s", dec.Action)
	}
}

// invokeSkill routes a named skill through the skill executor.
func (d *Dispatcher) invokeSkill(ctx context.Context, params map[string]any) string {
	name := stringParam(params, "skill")
	if name == "" {
		name = stringParam(params, "name")
	}
	if name == "" {
		return "invoke_skill failed: no skill name given"
	}
	return d.Executor.Run(ctx, d.state(), name, params, nil)
}

// generateSkill is a thin pass-through: the skill source provider is
// responsible for writing and compiling the generated code; once the
// registry has rescanned, the produced skill is dispatched like any other.
func (d *Dispatcher) generateSkill(ctx context.Context, params map[string]any) string {
	name := stringParam(params, "skill")
	if name == "" {
		name = stringParam(params, "name")
	}
	if name == "" {
		return "generate_skill failed: no skill name given"
	}
	if d.Registry == nil {
		return "generate_skill failed: no skill registry configured"
	}
	if err := d.Registry.Refresh(ctx); err != nil {
		return fmt.Sprintf("generate_skill failed: %v", err)
	}
	if _, ok := d.Registry.Get(name); !ok {
		return fmt.Sprintf("generate_skill failed: %s was not found after rescanning", name)
	}
	return d.Executor.Run(ctx, d.state(), name, params, nil)
}

// injectStashParams fills the role's stash anchor and keep-list into any
// deposit_stash/withdraw_stash invocation, so the model never has to know
// where the stash is or what to retain.
func (d *Dispatcher) injectStashParams(actionName string, params map[string]any) map[string]any {
	target := actionName
	if actionName == "invoke_skill" || actionName == "generate_skill" {
		target = strings.ToLower(stringParam(params, "skill"))
	}
	if target != "deposit_stash" && target != "withdraw_stash" {
		return params
	}
	if params == nil {
		params = map[string]any{}
	}
	if d.Role.Stash != nil {
		params["stash_x"] = d.Role.Stash.X
		params["stash_y"] = d.Role.Stash.Y
		params["stash_z"] = d.Role.Stash.Z
	}
	keep := map[string]any{}
	for _, k := range d.Role.KeepItems {
		keep[k.Pattern] = k.MinQty
	}
	params["keep_items"] = keep
	return params
}

func (d *Dispatcher) countBlocked(ctx context.Context) {
	if d.Metrics != nil {
		d.Metrics.DispatchBlocked.Add(ctx, 1)
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) isAllowed(action string) bool {
	if universalActions[action] {
		return true
	}
	return d.Role.AllowsAction(action)
}

// canonicalKey maps an action to its blacklist/counter lookup key.
func (d *Dispatcher) canonicalKey(action string, params map[string]any) string {
	switch action {
	case "invoke_skill", "generate_skill":
		if name := stringParam(params, "skill"); name != "" {
			return failure.SkillKey(name)
		}
	case "craft":
		if item := stringParam(params, "item"); item != "" {
			return failure.CraftKey(item)
		}
	case "go_to":
		x, _ := intParam(params, "x")
		z, _ := intParam(params, "z")
		return failure.GoToKey(x, z)
	}
	if d.Registry != nil {
		if _, ok := d.Registry.Get(action); ok {
			return failure.SkillKey(action)
		}
	}
	return action
}

func (d *Dispatcher) skillNameFor(action string, params map[string]any) string {
	if action == "invoke_skill" || action == "generate_skill" {
		return stringParam(params, "skill")
	}
	if d.Registry != nil {
		if _, ok := d.Registry.Get(action); ok {
			return action
		}
	}
	return ""
}

// checkBlacklist applies the hard-blacklist check plus the two at-dispatch
// reprieve rules.
func (d *Dispatcher) checkBlacklist(ctx context.Context, key string, params map[string]any) (blocked bool, message string, isBlocked bool) {
	blocked, message = d.Blacklist.Check(key)
	if !blocked {
		return false, "", false
	}

	if strings.Contains(strings.ToLower(key), "build_farm") {
		water, err := d.Client.FindNearestBlock(ctx, func(n string) bool { return n == "water" }, 96)
		if err == nil && water != nil && d.Blacklist.ReprieveBuildFarmWater(key, true) {
			return false, "", false
		}
	}

	snap, err := d.Client.Snapshot(ctx)
	if err == nil {
		byColor := map[string]int{}
		for _, it := range snap.Inventory {
			if strings.HasSuffix(it.Name, "_wool") {
				byColor[it.Name] += it.Count
			}
		}
		haveThree := false
		for _, c := range byColor {
			if c >= 3 {
				haveThree = true
				break
			}
		}
		d.Blacklist.ReprieveCraftBedWool(haveThree)
		blocked, message = d.Blacklist.Check(key)
	}

	return blocked, message, blocked
}

func (d *Dispatcher) dynamicReenable(ctx context.Context) {
	snap, err := d.Client.Snapshot(ctx)
	if err != nil {
		return
	}
	names := make([]string, 0, len(snap.Inventory))
	for _, it := range snap.Inventory {
		names = append(names, it.Name)
	}
	d.Blacklist.DynamicReenable(names)
}

func (d *Dispatcher) scheduleReplan(after time.Duration) {
	if d.Bus == nil {
		return
	}
	go func() {
		time.Sleep(after)
		d.Bus.Publish(bus.TopicCycleDeferred, bus.CycleEvent{Agent: d.AgentName, Kind: "strategic"})
	}()
}

func (d *Dispatcher) publishDispatch(traceID, action, key string, success bool, result string, blocked bool) {
	if d.Bus == nil {
		return
	}
	topic := bus.TopicDispatchSucceeded
	if blocked {
		topic = bus.TopicDispatchBlocked
	} else if !success {
		topic = bus.TopicDispatchFailed
	}
	d.Bus.Publish(topic, bus.DispatchEvent{
		Agent: d.AgentName, TraceID: traceID, Action: action, CanonKey: key,
		Success: success, Result: result, BlockedWhy: result,
	})
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func randJitter(base int, spread int) int {
	return base + rand.Intn(spread)
}
