package skills

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/basket/voxelbrain/internal/policy"
	"github.com/basket/voxelbrain/internal/sandbox/legacy"
	"github.com/basket/voxelbrain/internal/sandbox/wasm"
	"github.com/basket/voxelbrain/internal/skill"
)

// GeneratedSource implements skill.Source over two generated-skill routes:
// SKILL.md script manifests run through the legacy.Runner, and Go modules
// compiled by the wasm hot-swap watcher run through the wasm.Host. Write
// dispatches on the source's shape; Scan surfaces both kinds. Generated
// skill source is treated as trusted, not sandboxed — the policy.Checker
// still gates what either runner may actually touch.
type GeneratedSource struct {
	loader       *Loader
	generatedDir string
	runner       legacy.Runner
	wasmHost     *wasm.Host
	logger       *slog.Logger
}

// NewGeneratedSource wires a skill.Source over projectDir/userDir/installedDir
// (scanned by loader) with generatedDir as the Write target for newly
// produced skills.
func NewGeneratedSource(loader *Loader, generatedDir, workspaceDir string, pol policy.Checker, logger *slog.Logger) *GeneratedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeneratedSource{
		loader:       loader,
		generatedDir: generatedDir,
		runner:       legacy.Runner{WorkspaceDir: workspaceDir, Policy: pol},
		logger:       logger,
	}
}

// SetWASMHost attaches the module host backing the Go-module route. Nil
// (the default) disables it; Scan then returns only manifest skills.
func (g *GeneratedSource) SetWASMHost(h *wasm.Host) {
	g.wasmHost = h
}

// isGoModuleSource reports whether source is a Go program destined for the
// wasm hot-swap pipeline rather than a SKILL.md manifest.
func isGoModuleSource(source []byte) bool {
	trimmed := bytes.TrimSpace(source)
	if bytes.HasPrefix(trimmed, []byte("package main")) {
		return true
	}
	// Build-tagged or commented preamble before the package clause.
	return bytes.Contains(trimmed, []byte("\npackage main"))
}

// Write persists a new generated skill under generatedDir. A Go program
// lands as <name>.go in the directory root, where the wasm hot-swap watcher
// compiles and loads it; anything else is a SKILL.md manifest under
// <name>/, picked up by the fsnotify-backed skills.Watcher on the next
// Refresh.
func (g *GeneratedSource) Write(name string, source []byte) error {
	key := CanonicalSkillKey(name)
	if isGoModuleSource(source) {
		if err := os.MkdirAll(g.generatedDir, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(g.generatedDir, key+".go"), source, 0o644)
	}
	dir := filepath.Join(g.generatedDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "SKILL.md"), source, 0o644)
}

// Scan loads every eligible manifest skill from the loader's configured
// directories, then every module currently loaded in the wasm host, and
// adapts each into a skill.Skill. Module skills are appended last, so a
// module sharing a manifest skill's name wins the registry merge.
func (g *GeneratedSource) Scan(ctx context.Context) ([]skill.Skill, error) {
	loaded, err := g.loader.LoadAll(ctx)
	if err != nil && loaded == nil {
		return nil, err
	}
	out := make([]skill.Skill, 0, len(loaded))
	for _, ls := range loaded {
		if !ls.Eligible {
			g.logger.Warn("generated_skill_ineligible", "skill", ls.Skill.Name, "missing", ls.Missing)
			continue
		}
		out = append(out, legacySkillAdapter{skill: ls.Skill, runner: g.runner})
	}
	if g.wasmHost != nil {
		for _, name := range g.wasmHost.ModuleNames() {
			out = append(out, wasmSkillAdapter{name: name, host: g.wasmHost})
		}
	}
	return out, nil
}

// legacySkillAdapter adapts a legacy.Skill (a SKILL.md-defined shell
// procedure) to the skill.Skill interface so the executor can drive it
// through the same single-slot, cancellable, progress-reporting path as a
// statically-defined Go skill.
type legacySkillAdapter struct {
	skill  legacy.Skill
	runner legacy.Runner
}

func (a legacySkillAdapter) Name() string        { return a.skill.Name }
func (a legacySkillAdapter) Description() string { return a.skill.Description }

// EstimateMaterials is unsupported for shell-script skills; the executor
// treats a nil, nil estimate as "no material gathering sub-phase".
func (a legacySkillAdapter) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return nil, nil
}

func (a legacySkillAdapter) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	if progress != nil {
		progress(skill.Progress{SkillName: a.skill.Name, Phase: "execute", Progress: 0.3, Active: true})
	}
	out, err := a.runner.Run(ctx, a.skill)
	if err != nil {
		return skill.Result{Success: false, Message: err.Error()}, err
	}
	if progress != nil {
		progress(skill.Progress{SkillName: a.skill.Name, Phase: "execute", Progress: 1.0, Active: false})
	}
	return skill.Result{Success: true, Message: out}, nil
}

// wasmSkillAdapter adapts a hot-swapped WASM module to skill.Skill. The
// module's execute export does the work; faults (timeout, quarantine,
// memory) surface as result text and feed the same failure-memory path as
// any other skill.
type wasmSkillAdapter struct {
	name string
	host *wasm.Host
}

func (a wasmSkillAdapter) Name() string        { return a.name }
func (a wasmSkillAdapter) Description() string { return "generated wasm skill " + a.name }

func (a wasmSkillAdapter) EstimateMaterials(ctx context.Context, state skill.State, params map[string]any) (map[string]int, error) {
	return nil, nil
}

func (a wasmSkillAdapter) Execute(ctx context.Context, state skill.State, params map[string]any, progress skill.ProgressFunc) (skill.Result, error) {
	if progress != nil {
		progress(skill.Progress{SkillName: a.name, Phase: "invoke", Progress: 0.5, Active: true})
	}
	code, err := a.host.InvokeModule(ctx, a.name)
	if err != nil {
		return skill.Result{Success: false, Message: fmt.Sprintf("%s failed: %v", a.name, err)}, nil
	}
	if progress != nil {
		progress(skill.Progress{SkillName: a.name, Phase: "invoke", Progress: 1.0, Active: false})
	}
	return skill.Result{
		Success: true,
		Message: fmt.Sprintf("%s completed (exit %d)", a.name, code),
		Stats:   map[string]any{"exit": code},
	}, nil
}
