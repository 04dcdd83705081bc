// Package worldctx implements the World Context Formatter: the
// deterministic, one-fact-per-line observation string fed to the strategic
// prompt.
package worldctx

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/basket/voxelbrain/internal/gameclient"
)

// hostileMobs is the closed set of mob type names classified as hostile.
var hostileMobs = map[string]bool{
	"zombie": true, "skeleton": true, "spider": true, "creeper": true,
	"enderman": true, "witch": true, "drowned": true, "husk": true,
	"phantom": true, "pillager": true, "vindicator": true, "evoker": true,
	"blaze": true, "ghast": true, "slime": true, "cave_spider": true,
}

// passiveMobs is the closed set of mob type names classified as passive.
var passiveMobs = map[string]bool{
	"cow": true, "pig": true, "sheep": true, "chicken": true, "horse": true,
	"rabbit": true, "villager": true, "wolf": true, "cat": true, "fox": true,
	"bee": true, "squid": true, "turtle": true, "llama": true,
}

// notableBlocks are reported when spotted in the scan box.
var notableBlocks = map[string]bool{
	"crafting_table": true, "furnace": true, "chest": true,
	"enchanting_table": true, "anvil": true, "spawner": true,
	"coal_ore": true, "iron_ore": true, "gold_ore": true,
	"diamond_ore": true, "redstone_ore": true, "lapis_ore": true,
	"emerald_ore": true, "copper_ore": true,
}

var oreSuffix = "_ore"

// scan box half-extents.
const scanHalfX, scanHalfY, scanHalfZ = 4, 2, 4

// OreRecorder receives ore sightings so they can be persisted to the
// per-agent memory file.
type OreRecorder interface {
	RecordOre(oreType string, pos gameclient.Vec3)
}

// Formatter builds observation strings from a live Snapshot plus a scan of
// nearby blocks.
type Formatter struct {
	Client      gameclient.Client
	OreRecorder OreRecorder
}

// New returns a Formatter.
func New(client gameclient.Client, recorder OreRecorder) *Formatter {
	return &Formatter{Client: client, OreRecorder: recorder}
}

// Format produces the deterministic observation string for snap.
func (f *Formatter) Format(ctx context.Context, snap gameclient.Snapshot) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("position: %d,%d,%d", snap.Position.X, snap.Position.Y, snap.Position.Z))
	lines = append(lines, fmt.Sprintf("health: %d/20", snap.Health))
	lines = append(lines, fmt.Sprintf("food: %d/20", snap.Food))
	lines = append(lines, fmt.Sprintf("time: %s", timeOfDay(snap.Tick)))
	lines = append(lines, fmt.Sprintf("inventory: %s", formatInventory(snap.Inventory)))

	hostiles, players, passives := classifyEntities(snap.Entities)
	if len(hostiles) > 0 {
		lines = append(lines, "hostiles nearby: "+formatEntities(hostiles))
	}
	if len(players) > 0 {
		lines = append(lines, "players nearby: "+formatEntities(players))
	}
	if len(passives) > 0 {
		lines = append(lines, "animals nearby: "+formatEntities(passives))
	}

	if blocks := f.scanNotableBlocks(ctx, snap.Position); len(blocks) > 0 {
		lines = append(lines, "notable blocks: "+strings.Join(blocks, ", "))
	}

	if isNight(snap.Tick) {
		lines = append(lines, "nighttime: monsters may spawn nearby")
	}
	if f.inWater(ctx, snap.Position) {
		lines = append(lines, "you are in water")
	}

	return strings.Join(lines, "\n")
}

func timeOfDay(tick int) string {
	if tick < 13000 || tick > 23000 {
		return "day"
	}
	return "night"
}

func isNight(tick int) bool {
	return timeOfDay(tick) == "night"
}

func formatInventory(items []gameclient.ItemStack) string {
	if len(items) == 0 {
		return "(empty)"
	}
	sorted := make([]gameclient.ItemStack, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	parts := make([]string, 0, len(sorted))
	for _, it := range sorted {
		parts = append(parts, fmt.Sprintf("%s×%d", it.Name, it.Count))
	}
	return strings.Join(parts, ", ")
}

func classifyEntities(entities []gameclient.Entity) (hostiles, players, passives []gameclient.Entity) {
	for _, e := range entities {
		if e.Distance > 16 {
			continue
		}
		switch {
		case e.Type == "player":
			players = append(players, e)
		case hostileMobs[strings.ToLower(e.Name)]:
			hostiles = append(hostiles, e)
		case passiveMobs[strings.ToLower(e.Name)]:
			passives = append(passives, e)
		}
	}
	return
}

func formatEntities(entities []gameclient.Entity) string {
	sort.Slice(entities, func(i, j int) bool { return entities[i].Distance < entities[j].Distance })
	parts := make([]string, 0, len(entities))
	for _, e := range entities {
		parts = append(parts, fmt.Sprintf("%s at %.0f blocks", e.Name, e.Distance))
	}
	return strings.Join(parts, ", ")
}

func (f *Formatter) scanNotableBlocks(ctx context.Context, center gameclient.Vec3) []string {
	if f.Client == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for dx := -scanHalfX; dx <= scanHalfX; dx++ {
		for dy := -scanHalfY; dy <= scanHalfY; dy++ {
			for dz := -scanHalfZ; dz <= scanHalfZ; dz++ {
				pos := gameclient.Vec3{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				b, err := f.Client.BlockAt(ctx, pos)
				if err != nil || b == nil {
					continue
				}
				if !notableBlocks[b.Name] {
					continue
				}
				if strings.HasSuffix(b.Name, oreSuffix) && f.OreRecorder != nil {
					f.OreRecorder.RecordOre(b.Name, pos)
				}
				if !seen[b.Name] {
					seen[b.Name] = true
					out = append(out, b.Name)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func (f *Formatter) inWater(ctx context.Context, pos gameclient.Vec3) bool {
	if f.Client == nil {
		return false
	}
	feet, err := f.Client.BlockAt(ctx, pos)
	if err == nil && feet != nil && feet.Name == "water" {
		return true
	}
	head, err := f.Client.BlockAt(ctx, gameclient.Vec3{X: pos.X, Y: pos.Y + 1, Z: pos.Z})
	return err == nil && head != nil && head.Name == "water"
}
