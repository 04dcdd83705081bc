// Package failure implements Failure Memory: a short-term blacklist
// of canonicalised action keys plus the promotion/carry-forward logic
// backing the persistent broken-skill ledger stored in internal/memory.
package failure

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/basket/voxelbrain/internal/memory"
)

// preconditionKeywords identifies failures caused by a missing prerequisite
// rather than a genuine skill defect. Deliberately excludes "timed out" —
// that would mask real combat failures.
var preconditionKeywords = []string{
	"no trees found", "need wood", "need pickaxe", "no torches",
	"no crafting table", "no furnace", "missing materials",
	"no water found", "no tillable dirt", "no seeds",
	"can't craft a hoe", "chunk may not be loaded", "cannot find",
	"could not find", "nothing to smelt",
}

func isPreconditionFailure(result string) bool {
	lower := strings.ToLower(result)
	for _, kw := range preconditionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SkillKey canonicalises a skill invocation (via invoke_skill,
// generate_skill's produced name, or direct name match).
func SkillKey(name string) string { return "skill:" + name }

// CraftKey canonicalises a craft call.
func CraftKey(item string) string { return "craft:" + item }

// GoToKey canonicalises a repeated identical destination.
func GoToKey(x, z int) string { return "go_to:" + strconv.Itoa(x) + "," + strconv.Itoa(z) }

// actionNameFromKey extracts the bare skill/action name from key, or ""
// for craft:/go_to: keys which have no bare-name equivalent.
func actionNameFromKey(key string) string {
	if name, ok := strings.CutPrefix(key, "skill:"); ok {
		return name
	}
	if strings.HasPrefix(key, "craft:") || strings.HasPrefix(key, "go_to:") {
		return ""
	}
	return key
}

// softEntryMessage checks key/result against the precondition-aware
// immediate-entry table.
func softEntryMessage(key, result string) (string, bool) {
	if strings.HasPrefix(result, "Unknown action:") {
		return result, true
	}
	lower := strings.ToLower(result)
	name := strings.ToLower(actionNameFromKey(key))
	switch {
	case (name == "build_house" || name == "gather_wood") && strings.Contains(lower, "no trees"):
		return "No trees found — explore then retry", true
	case name == "build_farm" && strings.Contains(lower, "no water"):
		return "No water within 96 blocks — explore then retry", true
	case strings.Contains(name, "craftbed") && strings.Contains(lower, "no wool"):
		return "Need 3 wool same color — kill sheep", true
	case name == "light_area" && strings.Contains(lower, "no torch"):
		return "No torches — mine coal and craft first", true
	case strings.HasPrefix(key, "craft:") && strings.Contains(lower, "missing:"):
		idx := strings.Index(lower, "missing:")
		return "Missing materials: " + strings.TrimSpace(result[idx+len("missing:"):]), true
	}
	return "", false
}

type entry struct {
	message string
}

// ShortTermBlacklist is the per-agent short-term blacklist.
type ShortTermBlacklist struct {
	mu                   sync.Mutex
	counters             map[string]int
	entries              map[string]*entry
	order                []string
	successesSinceExpiry int
}

// NewShortTermBlacklist returns an empty blacklist.
func NewShortTermBlacklist() *ShortTermBlacklist {
	return &ShortTermBlacklist{
		counters: make(map[string]int),
		entries:  make(map[string]*entry),
	}
}

// Check reports whether key is currently blacklisted.
func (b *ShortTermBlacklist) Check(key string) (blocked bool, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return false, ""
	}
	return true, e.message
}

func (b *ShortTermBlacklist) addEntryLocked(key, message string) {
	if _, exists := b.entries[key]; !exists {
		b.order = append(b.order, key)
	}
	b.entries[key] = &entry{message: message}
}

func (b *ShortTermBlacklist) removeEntryLocked(key string) {
	if _, ok := b.entries[key]; !ok {
		return
	}
	delete(b.entries, key)
	delete(b.counters, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// protectedFromExpiry marks entries the background 8-success expiry must
// never auto-delete.
func protectedFromExpiry(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "no water found") || strings.Contains(lower, "need 3 wool")
}

func (b *ShortTermBlacklist) expireOldestLocked() {
	for i, key := range b.order {
		e := b.entries[key]
		if e == nil || protectedFromExpiry(e.message) {
			continue
		}
		b.order = append(b.order[:i], b.order[i+1:]...)
		delete(b.entries, key)
		delete(b.counters, key)
		return
	}
}

// RecordResult applies one dispatch outcome to the blacklist.
func (b *ShortTermBlacklist) RecordResult(key, result string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.removeEntryLocked(key)
		b.successesSinceExpiry++
		if b.successesSinceExpiry >= 8 {
			b.expireOldestLocked()
			b.successesSinceExpiry = 0
		}
		return
	}

	if msg, ok := softEntryMessage(key, result); ok {
		b.addEntryLocked(key, msg)
		return
	}

	b.counters[key]++
	if b.counters[key] >= 2 {
		b.addEntryLocked(key, result)
	}
}

// FormatDoNotRetry renders the current blacklist as "do not retry" lines
// for the strategic prompt, sorted for deterministic prompt text.
func (b *ShortTermBlacklist) FormatDoNotRetry() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := make([]string, 0, len(b.entries))
	for key, e := range b.entries {
		lines = append(lines, key+": "+e.message)
	}
	sort.Strings(lines)
	return lines
}

// DynamicReenable clears blacklist entries whose missing material is now
// present in inventory.
func (b *ShortTermBlacklist) DynamicReenable(inventory []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	has := func(substr string) bool {
		for _, item := range inventory {
			if strings.Contains(strings.ToLower(item), substr) {
				return true
			}
		}
		return false
	}

	var toClear []string
	for key, e := range b.entries {
		lower := strings.ToLower(e.message)
		switch {
		case strings.Contains(lower, "missing: coal") && has("coal"):
			toClear = append(toClear, key)
		case strings.Contains(lower, "missing: stick") && has("stick"):
			toClear = append(toClear, key)
		case (strings.Contains(lower, "missing: wood") || strings.Contains(lower, "missing: log") || strings.Contains(lower, "missing: plank")) &&
			(has("wood") || has("log") || has("plank")):
			toClear = append(toClear, key)
		case strings.Contains(lower, "missing: torch") && has("torch"):
			toClear = append(toClear, key)
		}
	}
	for _, key := range toClear {
		b.removeEntryLocked(key)
	}
}

// ReprieveBuildFarmWater clears a build_farm "no water" entry at dispatch
// time when water is now within range. Unlike DynamicReenable
// this is checked only at dispatch, never by background polling.
func (b *ShortTermBlacklist) ReprieveBuildFarmWater(key string, waterWithinRange bool) bool {
	if !waterWithinRange {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || !strings.Contains(strings.ToLower(e.message), "no water") {
		return false
	}
	b.removeEntryLocked(key)
	return true
}

// ReprieveCraftBedWool clears any "need 3 wool" entry once the agent holds
// 3 wool of a single colour.
func (b *ShortTermBlacklist) ReprieveCraftBedWool(haveThreeSameColorWool bool) {
	if !haveThreeSameColorWool {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var toClear []string
	for key, e := range b.entries {
		if strings.Contains(strings.ToLower(e.message), "need 3 wool") {
			toClear = append(toClear, key)
		}
	}
	for _, key := range toClear {
		b.removeEntryLocked(key)
	}
}

// EvaluateBrokenPromotion reports whether a skill's rolling attempt history
// warrants promotion to the persistent broken-skill ledger: at least
// 5 non-precondition failures and zero successes anywhere in the window.
func EvaluateBrokenPromotion(attempts []memory.SkillAttempt) bool {
	nonPrecondition := 0
	for _, a := range attempts {
		if a.Success {
			return false
		}
		if !isPreconditionFailure(a.Notes) {
			nonPrecondition++
		}
	}
	return nonPrecondition >= 5
}

// preconditionSubtype identifies the three carry-forwardable stable
// prerequisite subtypes. "no trees" is deliberately excluded: the agent may
// simply have relocated since the last attempt.
func preconditionSubtype(result string) (message string, ok bool) {
	lower := strings.ToLower(result)
	switch {
	case strings.Contains(lower, "no water"):
		return "No water within 96 blocks — explore then retry", true
	case strings.Contains(lower, "no wool"):
		return "Need 3 wool same color — kill sheep", true
	case strings.Contains(lower, "no torch"):
		return "No torches — mine coal and craft first", true
	}
	return "", false
}

// CarryForwardSessionPreconditions pre-populates bl on startup for any
// skill whose last two recorded attempts were both failures of the same
// stable precondition subtype.
func CarryForwardSessionPreconditions(bl *ShortTermBlacklist, bySkill map[string][]memory.SkillAttempt) {
	for skill, attempts := range bySkill {
		if len(attempts) < 2 {
			continue
		}
		last := attempts[len(attempts)-2:]
		if last[0].Success || last[1].Success {
			continue
		}
		msg0, ok0 := preconditionSubtype(last[0].Notes)
		msg1, ok1 := preconditionSubtype(last[1].Notes)
		if !ok0 || !ok1 || msg0 != msg1 {
			continue
		}
		bl.mu.Lock()
		bl.addEntryLocked(SkillKey(skill), msg0)
		bl.mu.Unlock()
	}
}
