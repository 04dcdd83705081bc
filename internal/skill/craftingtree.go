package skill

import "strings"

// Recipe is one hard-coded crafting-tree entry. Ingredients are per-batch quantities; Yield is how many units of
// Output one batch produces.
type Recipe struct {
	Output        string
	Ingredients   map[string]int
	Yield         int
	NeedsTable    bool
	MineFallback  string // raw block this item can also be obtained by mining directly
}

// CraftingTree is the recursive recipe decomposition table consulted by the
// skill executor's gathering sub-phase and by the craft primitive's
// log→planks auto-conversion.
var CraftingTree = map[string]Recipe{
	"oak_planks": {
		Output:      "oak_planks",
		Ingredients: map[string]int{"oak_log": 1},
		Yield:       4,
	},
	"stick": {
		Output:      "stick",
		Ingredients: map[string]int{"oak_planks": 2},
		Yield:       4,
	},
	"crafting_table": {
		Output:      "crafting_table",
		Ingredients: map[string]int{"oak_planks": 4},
		Yield:       1,
	},
	"chest": {
		Output:      "chest",
		Ingredients: map[string]int{"oak_planks": 8},
		Yield:       1,
		NeedsTable:  true,
	},
	"furnace": {
		Output:      "furnace",
		Ingredients: map[string]int{"cobblestone": 8},
		Yield:       1,
		NeedsTable:  true,
	},
	"torch": {
		Output:      "torch",
		Ingredients: map[string]int{"coal": 1, "stick": 1},
		Yield:       4,
	},
	"wooden_pickaxe": {
		Output:      "wooden_pickaxe",
		Ingredients: map[string]int{"oak_planks": 3, "stick": 2},
		Yield:       1,
		NeedsTable:  true,
	},
	"stone_pickaxe": {
		Output:      "stone_pickaxe",
		Ingredients: map[string]int{"cobblestone": 3, "stick": 2},
		Yield:       1,
		NeedsTable:  true,
	},
	"iron_pickaxe": {
		Output:      "iron_pickaxe",
		Ingredients: map[string]int{"iron_ingot": 3, "stick": 2},
		Yield:       1,
		NeedsTable:  true,
	},
	"wooden_axe": {
		Output:      "wooden_axe",
		Ingredients: map[string]int{"oak_planks": 3, "stick": 2},
		Yield:       1,
		NeedsTable:  true,
	},
	"wooden_hoe": {
		Output:      "wooden_hoe",
		Ingredients: map[string]int{"oak_planks": 2, "stick": 2},
		Yield:       1,
		NeedsTable:  true,
	},
	"fishing_rod": {
		Output:      "fishing_rod",
		Ingredients: map[string]int{"stick": 3, "string": 2},
		Yield:       1,
		NeedsTable:  true,
	},
	"iron_ingot": {
		Output:      "iron_ingot",
		Ingredients: map[string]int{"raw_iron": 1, "coal": 1},
		Yield:       1,
		MineFallback: "iron_ore",
	},
}

// craftAliases resolves the model's colloquial item names to the crafting
// tree / gameclient item id before lookup.
var craftAliases = map[string]string{
	"planks":     "oak_planks",
	"plank":      "oak_planks",
	"wood":       "oak_log",
	"log":        "oak_log",
	"logs":       "oak_log",
	"workbench":  "crafting_table",
	"table":      "crafting_table",
	"bed":        "red_bed",
	"sticks":     "stick",
	"pickaxe":    "wooden_pickaxe",
	"axe":        "wooden_axe",
	"hoe":        "wooden_hoe",
	"rod":        "fishing_rod",
}

// ResolveItemAlias normalises a model-supplied item name.
func ResolveItemAlias(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := craftAliases[key]; ok {
		return alias
	}
	return key
}

// Deficit computes, recursively, how many units of each raw/base item are
// needed to satisfy want additional units of item beyond what have, given
// the crafting tree. Base items (no recipe) pass straight through.
func Deficit(item string, want int, have map[string]int) map[string]int {
	out := map[string]int{}
	deficitInto(item, want, have, out, 0)
	return out
}

func deficitInto(item string, want int, have map[string]int, out map[string]int, depth int) {
	if want <= 0 || depth > 8 {
		return
	}
	available := have[item]
	missing := want - available
	if missing <= 0 {
		have[item] = available - want
		return
	}
	have[item] = 0

	recipe, ok := CraftingTree[item]
	if !ok {
		out[item] += missing
		return
	}
	batches := (missing + recipe.Yield - 1) / recipe.Yield
	for ingredient, perBatch := range recipe.Ingredients {
		deficitInto(ingredient, perBatch*batches, have, out, depth+1)
	}
}
