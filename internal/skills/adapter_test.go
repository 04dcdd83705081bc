package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/voxelbrain/internal/sandbox/wasm"
	"github.com/basket/voxelbrain/internal/skill"
)

func newTestSource(t *testing.T) (*GeneratedSource, string) {
	t.Helper()
	generatedDir := t.TempDir()
	loader := NewLoader(generatedDir, "", "", nil)
	return NewGeneratedSource(loader, generatedDir, t.TempDir(), nil, nil), generatedDir
}

func TestWrite_ManifestGoesUnderSkillDir(t *testing.T) {
	g, dir := newTestSource(t)
	manifest := "---\nname: dig_moat\ndescription: digs a moat\nscript: echo done\n---\n"
	if err := g.Write("dig_moat", []byte(manifest)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dig_moat", "SKILL.md")); err != nil {
		t.Fatalf("SKILL.md not written: %v", err)
	}
}

func TestWrite_GoModuleGoesToHotSwapRoot(t *testing.T) {
	g, dir := newTestSource(t)
	src := "package main\n\nfunc main() {}\n"
	if err := g.Write("Tunnel_Dig", []byte(src)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tunnel_dig.go")); err != nil {
		t.Fatalf("Go module not written for the wasm pipeline: %v", err)
	}
}

func TestIsGoModuleSource(t *testing.T) {
	cases := map[string]bool{
		"package main\n\nfunc main() {}":             true,
		"//go:build tinygo\n\npackage main\n":        true,
		"---\nname: x\n---\n```sh\necho hi\n```":     false,
		"name: x\ndescription: y\nscript: echo hi\n": false,
	}
	for src, want := range cases {
		if got := isGoModuleSource([]byte(src)); got != want {
			t.Errorf("isGoModuleSource(%q) = %v, want %v", src, got, want)
		}
	}
}

func TestScan_IncludesLoadedWASMModules(t *testing.T) {
	g, _ := newTestSource(t)

	host, err := wasm.NewHost(context.Background(), wasm.Config{})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer host.Close(context.Background())
	g.SetWASMHost(host)

	// No modules loaded yet: scan yields no wasm adapters.
	out, err := g.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty scan, got %d skills", len(out))
	}
}

func TestWASMSkillAdapter_MissingModuleIsFailureResult(t *testing.T) {
	host, err := wasm.NewHost(context.Background(), wasm.Config{})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer host.Close(context.Background())

	a := wasmSkillAdapter{name: "ghost", host: host}
	res, err := a.Execute(context.Background(), skill.State{}, nil, nil)
	if err != nil {
		t.Fatalf("Execute should fold faults into the result, got err %v", err)
	}
	if res.Success || !strings.Contains(res.Message, "ghost failed") {
		t.Fatalf("res = %+v", res)
	}
}
