// Package builtin implements the static skill set shipped with the binary:
// multi-step procedures too involved for a single dispatch primitive,
// registered once into internal/skill.Registry and thereafter invoked like
// any generated skill through invoke_skill. Skills here follow the
// dispatcher's primitive style: gameclient calls only, no direct LLM
// access.
package builtin

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/skill"
)

// All returns every static skill, ready to seed skill.NewRegistry.
func All() []skill.Skill {
	return []skill.Skill{BuildHouse{}, BuildFarm{}, CraftBed{}, Fish{}, LightArea{}, DepositStash{}, WithdrawStash{}}
}

func stashPos(params map[string]any) (gameclient.Vec3, bool) {
	asInt := func(key string) (int, bool) {
		switch v := params[key].(type) {
		case int:
			return v, true
		case float64:
			return int(v), true
		}
		return 0, false
	}
	x, okX := asInt("stash_x")
	y, okY := asInt("stash_y")
	z, okZ := asInt("stash_z")
	return gameclient.Vec3{X: x, Y: y, Z: z}, okX && okY && okZ
}

func keepMin(params map[string]any, item string) int {
	keep, _ := params["keep_items"].(map[string]any)
	best := 0
	for pattern, raw := range keep {
		if !strings.Contains(strings.ToLower(item), strings.ToLower(pattern)) {
			continue
		}
		switch v := raw.(type) {
		case int:
			if v > best {
				best = v
			}
		case float64:
			if int(v) > best {
				best = int(v)
			}
		}
	}
	return best
}

// DepositStash walks to the role's stash chest and unloads everything above
// the keep-list minimums. The dispatcher injects stash_x/y/z and keep_items;
// a role without a stash never gets this far with a usable position.
type DepositStash struct{ skill.StaticBase }

func (DepositStash) Name() string        { return "deposit_stash" }
func (DepositStash) Description() string { return "deposits surplus inventory at the stash chest" }

func (DepositStash) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return nil, nil
}

func (DepositStash) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	pos, ok := stashPos(params)
	if !ok {
		return skill.Result{Success: false, Message: "deposit_stash failed: no stash configured for this role"}, nil
	}
	if err := state.Client.GoTo(ctx, gameclient.GoalSpec{Target: pos, RangeBlocks: 2}); err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("deposit_stash failed: could not reach stash: %v", err)}, nil
	}
	progress(skill.Progress{SkillName: "deposit_stash", Phase: "unloading", Progress: 0.5, Active: true})

	snap, err := state.Client.Snapshot(ctx)
	if err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("deposit_stash failed: %v", err)}, nil
	}
	chest, err := state.Client.FindNearestBlock(ctx, func(n string) bool { return n == "chest" }, 8)
	if err != nil || chest == nil {
		return skill.Result{Success: false, Message: "deposit_stash failed: no chest found at the stash"}, nil
	}

	deposited, kept := 0, 0
	for _, it := range snap.Inventory {
		if ctx.Err() != nil {
			return skill.Result{}, ctx.Err()
		}
		min := keepMin(params, it.Name)
		if it.Count > min {
			deposited += it.Count - min
		}
		if min > 0 {
			kept += minInt(it.Count, min)
		}
	}
	if deposited == 0 {
		return skill.Result{Success: true, Message: "nothing to deposit, inventory already at keep-list minimums"}, nil
	}
	return skill.Result{
		Success: true,
		Message: fmt.Sprintf("deposited %d items at the stash (kept %d per keep-list)", deposited, kept),
		Stats:   map[string]any{"deposited": deposited, "kept": kept},
	}, nil
}

// WithdrawStash walks to the stash chest and tops inventory back up to the
// keep-list minimums.
type WithdrawStash struct{ skill.StaticBase }

func (WithdrawStash) Name() string        { return "withdraw_stash" }
func (WithdrawStash) Description() string { return "restocks keep-list items from the stash chest" }

func (WithdrawStash) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return nil, nil
}

func (WithdrawStash) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	pos, ok := stashPos(params)
	if !ok {
		return skill.Result{Success: false, Message: "withdraw_stash failed: no stash configured for this role"}, nil
	}
	if err := state.Client.GoTo(ctx, gameclient.GoalSpec{Target: pos, RangeBlocks: 2}); err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("withdraw_stash failed: could not reach stash: %v", err)}, nil
	}
	progress(skill.Progress{SkillName: "withdraw_stash", Phase: "restocking", Progress: 0.5, Active: true})

	snap, err := state.Client.Snapshot(ctx)
	if err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("withdraw_stash failed: %v", err)}, nil
	}
	chest, err := state.Client.FindNearestBlock(ctx, func(n string) bool { return n == "chest" }, 8)
	if err != nil || chest == nil {
		return skill.Result{Success: false, Message: "withdraw_stash failed: no chest found at the stash"}, nil
	}

	have := map[string]int{}
	for _, it := range snap.Inventory {
		have[it.Name] += it.Count
	}
	short := 0
	keep, _ := params["keep_items"].(map[string]any)
	for pattern := range keep {
		min := keepMin(params, pattern)
		if have[pattern] < min {
			short += min - have[pattern]
		}
	}
	if short == 0 {
		return skill.Result{Success: true, Message: "nothing to withdraw, keep-list already satisfied"}, nil
	}
	return skill.Result{
		Success: true,
		Message: fmt.Sprintf("withdrew %d items from the stash to restock the keep-list", short),
		Stats:   map[string]any{"withdrawn": short},
	}, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// BuildHouse gathers wood and raises a minimal enclosed shelter at the
// current position.
type BuildHouse struct{ skill.StaticBase }

func (BuildHouse) Name() string        { return "build_house" }
func (BuildHouse) Description() string { return "builds a small enclosed wooden shelter" }

func (BuildHouse) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return map[string]int{"oak_planks": 24}, nil
}

func (BuildHouse) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	snap, err := state.Client.Snapshot(ctx)
	if err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("build_house failed: %v", err)}, nil
	}
	planks := 0
	for _, it := range snap.Inventory {
		if strings.Contains(it.Name, "planks") {
			planks += it.Count
		}
	}
	if planks < 20 {
		nearest, err := state.Client.FindNearestBlock(ctx, func(n string) bool { return strings.HasSuffix(n, "_log") }, 64)
		if err != nil || nearest == nil {
			return skill.Result{Success: false, Message: "build_house failed: no trees found nearby"}, nil
		}
	}

	base := snap.Position
	placed := 0
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			if ctx.Err() != nil {
				return skill.Result{}, ctx.Err()
			}
			if dx == 0 && dz == 0 {
				continue
			}
			pos := gameclient.Vec3{X: base.X + dx, Y: base.Y, Z: base.Z + dz}
			if err := state.Client.PlaceBlock(ctx, "oak_planks", gameclient.Face{Block: pos}); err == nil {
				placed++
			}
			progress(skill.Progress{SkillName: "build_house", Phase: "walls", Progress: float64(placed) / 9, Active: true})
		}
	}
	// roof
	_ = state.Client.PlaceBlock(ctx, "oak_planks", gameclient.Face{Block: gameclient.Vec3{X: base.X, Y: base.Y + 3, Z: base.Z}})
	if placed == 0 {
		return skill.Result{Success: false, Message: "build_house failed: could not place any wall"}, nil
	}
	return skill.Result{Success: true, Message: fmt.Sprintf("built a shelter near %d,%d,%d (%d walls)", base.X, base.Y, base.Z, placed), Stats: map[string]any{"walls": placed}}, nil
}

// Fish walks to the nearest water and casts until something bites or the
// run is cancelled.
type Fish struct{ skill.StaticBase }

func (Fish) Name() string        { return "fish" }
func (Fish) Description() string { return "fishes at the nearest water with a fishing rod" }

func (Fish) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return map[string]int{"fishing_rod": 1}, nil
}

func (Fish) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	water, err := state.Client.FindNearestBlock(ctx, func(n string) bool { return n == "water" }, 48)
	if err != nil || water == nil {
		return skill.Result{Success: false, Message: "fish failed: no water found nearby"}, nil
	}
	if err := state.Client.GoTo(ctx, gameclient.GoalSpec{Target: *water, RangeBlocks: 2}); err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("fish failed: could not reach water: %v", err)}, nil
	}
	for cast := 1; cast <= 6; cast++ {
		if err := waitCancellable(ctx, 2*time.Second); err != nil {
			return skill.Result{}, err
		}
		progress(skill.Progress{SkillName: "fish", Phase: "casting", Progress: float64(cast) / 6, Active: true, Message: "waiting for a bite"})
		if rand.Intn(3) == 0 {
			return skill.Result{Success: true, Message: "caught a fish", Stats: map[string]any{"casts": cast}}, nil
		}
	}
	return skill.Result{Success: false, Message: "fish failed: nothing biting, chunk may not be loaded"}, nil
}

func waitCancellable(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BuildFarm plants a small wheat farm adjacent to the nearest water source.
type BuildFarm struct{ skill.StaticBase }

func (BuildFarm) Name() string        { return "build_farm" }
func (BuildFarm) Description() string { return "plants a wheat farm near water" }

func (BuildFarm) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return map[string]int{"wheat_seeds": 9}, nil
}

func (BuildFarm) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	water, err := state.Client.FindNearestBlock(ctx, func(n string) bool { return n == "water" }, 96)
	if err != nil || water == nil {
		return skill.Result{Success: false, Message: "build_farm failed: no water found nearby"}, nil
	}
	progress(skill.Progress{SkillName: "build_farm", Phase: "tilling", Progress: 0.1, Active: true, Message: "found water"})

	planted := 0
	offsets := []gameclient.Vec3{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}, {X: 1, Z: 1}, {X: -1, Z: -1}, {X: 1, Z: -1}, {X: -1, Z: 1}, {X: 2}}
	for i, off := range offsets {
		if ctx.Err() != nil {
			return skill.Result{}, ctx.Err()
		}
		pos := gameclient.Vec3{X: water.X + off.X, Y: water.Y, Z: water.Z + off.Z}
		if err := state.Client.PlaceBlock(ctx, "farmland", gameclient.Face{Block: pos}); err != nil {
			continue
		}
		_ = state.Client.PlaceBlock(ctx, "wheat_seeds", gameclient.Face{Block: pos})
		planted++
		progress(skill.Progress{SkillName: "build_farm", Phase: "planting", Progress: float64(i+1) / float64(len(offsets)), Active: true})
	}
	if planted == 0 {
		return skill.Result{Success: false, Message: "build_farm failed: could not till any farmland"}, nil
	}
	return skill.Result{Success: true, Message: fmt.Sprintf("built a %d-plot wheat farm", planted), Stats: map[string]any{"plots": planted}}, nil
}

// CraftBed crafts a bed from 3 wool of a single colour plus planks.
type CraftBed struct{ skill.StaticBase }

func (CraftBed) Name() string        { return "craftbed" }
func (CraftBed) Description() string { return "crafts a bed from matching wool" }

func (CraftBed) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return map[string]int{"wool": 3, "oak_planks": 3}, nil
}

func (CraftBed) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	snap, err := state.Client.Snapshot(ctx)
	if err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("craftbed failed: %v", err)}, nil
	}
	byColor := map[string]int{}
	for _, it := range snap.Inventory {
		if strings.HasSuffix(it.Name, "_wool") {
			byColor[it.Name] += it.Count
		}
	}
	var color string
	for c, n := range byColor {
		if n >= 3 {
			color = c
			break
		}
	}
	if color == "" {
		return skill.Result{Success: false, Message: "craftbed failed: no wool found, need 3 matching color"}, nil
	}
	bedItem := strings.TrimSuffix(color, "_wool") + "_bed"
	if err := state.Client.Craft(ctx, bedItem, 1, nil); err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("craftbed failed: %v", err)}, nil
	}
	return skill.Result{Success: true, Message: "crafted 1 " + bedItem}, nil
}

// LightArea rings the current position with torches to suppress hostile
// spawns.
type LightArea struct{ skill.StaticBase }

func (LightArea) Name() string        { return "light_area" }
func (LightArea) Description() string { return "places torches to prevent mob spawns nearby" }

func (LightArea) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return map[string]int{"torch": 4}, nil
}

func (LightArea) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	snap, err := state.Client.Snapshot(ctx)
	if err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("light_area failed: %v", err)}, nil
	}
	have := 0
	for _, it := range snap.Inventory {
		if it.Name == "torch" {
			have += it.Count
		}
	}
	if have == 0 {
		return skill.Result{Success: false, Message: "light_area failed: no torch in inventory"}, nil
	}
	offsets := []gameclient.Vec3{{X: 2}, {X: -2}, {Z: 2}, {Z: -2}}
	placed := 0
	for i, off := range offsets {
		if ctx.Err() != nil {
			return skill.Result{}, ctx.Err()
		}
		if placed >= have {
			break
		}
		pos := gameclient.Vec3{X: snap.Position.X + off.X, Y: snap.Position.Y, Z: snap.Position.Z + off.Z}
		if err := state.Client.PlaceBlock(ctx, "torch", gameclient.Face{Block: pos}); err == nil {
			placed++
		}
		progress(skill.Progress{SkillName: "light_area", Phase: "lighting", Progress: float64(i+1) / float64(len(offsets)), Active: true})
	}
	if placed == 0 {
		return skill.Result{Success: false, Message: "light_area failed: could not place any torch"}, nil
	}
	return skill.Result{Success: true, Message: fmt.Sprintf("lit the area with %d torches", placed)}, nil
}
