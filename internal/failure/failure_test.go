package failure

import (
	"testing"

	"github.com/basket/voxelbrain/internal/memory"
)

func TestRecordResult_HardBlacklistAfterTwoFailures(t *testing.T) {
	bl := NewShortTermBlacklist()
	key := SkillKey("mine_iron")

	bl.RecordResult(key, "pathfinding timed out", false)
	if blocked, _ := bl.Check(key); blocked {
		t.Fatalf("should not be blocked after 1 failure")
	}
	bl.RecordResult(key, "pathfinding timed out", false)
	blocked, msg := bl.Check(key)
	if !blocked {
		t.Fatalf("should be blocked after 2 consecutive failures")
	}
	if msg != "pathfinding timed out" {
		t.Fatalf("message = %q", msg)
	}
}

func TestRecordResult_SoftEntryImmediate(t *testing.T) {
	bl := NewShortTermBlacklist()
	key := SkillKey("build_house")
	bl.RecordResult(key, "failed: no trees nearby", false)
	blocked, msg := bl.Check(key)
	if !blocked {
		t.Fatalf("expected immediate soft entry")
	}
	if msg != "No trees found — explore then retry" {
		t.Fatalf("message = %q", msg)
	}
}

func TestRecordResult_UnknownActionImmediate(t *testing.T) {
	bl := NewShortTermBlacklist()
	key := "teleport_moon"
	bl.RecordResult(key, "Unknown action: teleport_moon", false)
	if blocked, _ := bl.Check(key); !blocked {
		t.Fatalf("expected immediate entry for unknown action")
	}
}

func TestRecordResult_SuccessResetsCounter(t *testing.T) {
	bl := NewShortTermBlacklist()
	key := SkillKey("chop_tree")
	bl.RecordResult(key, "fail", false)
	bl.RecordResult(key, "chopped successfully", true)
	bl.RecordResult(key, "fail", false)
	if blocked, _ := bl.Check(key); blocked {
		t.Fatalf("single failure after a success should not blacklist")
	}
}

func TestCraftMissingMaterials(t *testing.T) {
	bl := NewShortTermBlacklist()
	key := CraftKey("furnace")
	bl.RecordResult(key, "craft failed missing: 8 cobblestone", false)
	blocked, msg := bl.Check(key)
	if !blocked {
		t.Fatalf("expected immediate entry")
	}
	if msg != "Missing materials: 8 cobblestone" {
		t.Fatalf("message = %q", msg)
	}
}

func TestDynamicReenable_ClearsOnInventoryMatch(t *testing.T) {
	bl := NewShortTermBlacklist()
	key := CraftKey("torch")
	bl.RecordResult(key, "craft failed missing: coal", false)
	bl.DynamicReenable([]string{"oak_log"})
	if blocked, _ := bl.Check(key); !blocked {
		t.Fatalf("should still be blocked without coal")
	}
	bl.DynamicReenable([]string{"coal"})
	if blocked, _ := bl.Check(key); blocked {
		t.Fatalf("should be cleared once coal is in inventory")
	}
}

func TestReprieveBuildFarmWater(t *testing.T) {
	bl := NewShortTermBlacklist()
	key := SkillKey("build_farm")
	bl.RecordResult(key, "no water found nearby", false)
	if bl.ReprieveBuildFarmWater(key, false) {
		t.Fatalf("should not reprieve without water in range")
	}
	if !bl.ReprieveBuildFarmWater(key, true) {
		t.Fatalf("expected reprieve once water is in range")
	}
	if blocked, _ := bl.Check(key); blocked {
		t.Fatalf("expected entry cleared after reprieve")
	}
}

func TestExpiry_SkipsProtectedEntries(t *testing.T) {
	bl := NewShortTermBlacklist()
	waterKey := SkillKey("build_farm")
	bl.RecordResult(waterKey, "no water found nearby", false)

	normalKey := SkillKey("mine_iron")
	bl.RecordResult(normalKey, "fail", false)
	bl.RecordResult(normalKey, "fail", false)

	for i := 0; i < 8; i++ {
		bl.RecordResult(SkillKey("chop_tree"), "chopped", true)
	}

	if blocked, _ := bl.Check(waterKey); !blocked {
		t.Fatalf("protected no-water entry should survive expiry")
	}
	if blocked, _ := bl.Check(normalKey); blocked {
		t.Fatalf("unprotected entry should have expired")
	}
}

func TestEvaluateBrokenPromotion(t *testing.T) {
	var failing []memory.SkillAttempt
	for i := 0; i < 5; i++ {
		failing = append(failing, memory.SkillAttempt{Skill: "build_house", Success: false, Notes: "collapsed unexpectedly"})
	}
	if !EvaluateBrokenPromotion(failing) {
		t.Fatalf("expected promotion after 5 non-precondition failures")
	}

	var withSuccess []memory.SkillAttempt
	withSuccess = append(withSuccess, failing...)
	withSuccess = append(withSuccess, memory.SkillAttempt{Skill: "build_house", Success: true})
	if EvaluateBrokenPromotion(withSuccess) {
		t.Fatalf("a single success should disqualify promotion")
	}

	var preconditionOnly []memory.SkillAttempt
	for i := 0; i < 5; i++ {
		preconditionOnly = append(preconditionOnly, memory.SkillAttempt{Skill: "build_house", Success: false, Notes: "no trees found nearby"})
	}
	if EvaluateBrokenPromotion(preconditionOnly) {
		t.Fatalf("precondition failures should not count toward promotion")
	}
}

func TestCarryForwardSessionPreconditions(t *testing.T) {
	bl := NewShortTermBlacklist()
	bySkill := map[string][]memory.SkillAttempt{
		"build_farm": {
			{Success: false, Notes: "no water found nearby"},
			{Success: false, Notes: "still no water found"},
		},
		"build_house": {
			{Success: false, Notes: "no trees found nearby"},
			{Success: false, Notes: "no trees found nearby"},
		},
	}
	CarryForwardSessionPreconditions(bl, bySkill)

	if blocked, _ := bl.Check(SkillKey("build_farm")); !blocked {
		t.Fatalf("expected build_farm carried forward")
	}
	if blocked, _ := bl.Check(SkillKey("build_house")); blocked {
		t.Fatalf("no-trees should never be carried forward")
	}
}
