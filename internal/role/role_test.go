package role

import "testing"

func TestAllowsAction(t *testing.T) {
	r := Role{
		AllowedActions: []string{"go_to", "Explore"},
		AllowedSkills:  []string{"craftBed"},
	}
	cases := map[string]bool{
		"go_to":    true,
		"explore":  true,
		"craftbed": true,
		"mine":     false,
	}
	for name, want := range cases {
		if got := r.AllowsAction(name); got != want {
			t.Errorf("AllowsAction(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestKeepMinFor(t *testing.T) {
	r := Role{KeepItems: []KeepItem{
		{Pattern: "planks", MinQty: 16},
		{Pattern: "wool", MinQty: 3},
	}}
	if got := r.KeepMinFor("oak_planks"); got != 16 {
		t.Fatalf("got %d, want 16", got)
	}
	if got := r.KeepMinFor("diamond"); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestHasStash(t *testing.T) {
	r := Role{}
	if r.HasStash() {
		t.Fatal("expected no stash")
	}
	r.Stash = &Anchor{X: 1, Y: 2, Z: 3}
	if !r.HasStash() {
		t.Fatal("expected stash configured")
	}
}
