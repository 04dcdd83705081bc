// Package skill defines the long-running multi-step procedure abstraction
// and the registry that backs both statically-defined skills
// (shipped as source, constructed once at startup) and dynamically loaded
// ones produced by generate_skill and rescanned from a directory.
package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/basket/voxelbrain/internal/gameclient"
)

// State is the read-only context a skill executes against.
type State struct {
	Client    gameclient.Client
	AgentName string
}

// Progress is one snapshot published over the course of execution.
// It never surfaces to the language model, only to the stream overlay.
type Progress struct {
	SkillName string
	Phase     string
	Progress  float64 // 0..1
	Message   string
	Active    bool
}

// ProgressFunc receives progress snapshots during Execute.
type ProgressFunc func(Progress)

// Result is a skill's outcome.
type Result struct {
	Success bool
	Message string
	Stats   map[string]any
}

// Skill is a cancellable multi-step procedure wrapping many primitives.
// Cancellation is carried by ctx, checked at every loop
// iteration and suspension point; an implementation that ignores ctx
// breaks the "one skill at a time, always abortable" invariant.
type Skill interface {
	Name() string
	Description() string

	// EstimateMaterials returns the total item quantities this invocation
	// needs (not the deficit — the executor diffs against current
	// inventory).
	EstimateMaterials(ctx context.Context, state State, params map[string]any) (map[string]int, error)

	Execute(ctx context.Context, state State, params map[string]any, progress ProgressFunc) (Result, error)
}

// Static marks a skill as shipped with the binary; its persistent broken-skill entries are healed on every agent
// startup since a source fix may have resolved the failure.
type Static interface {
	Skill
	StaticSkill() bool
}

// StaticBase embeds into static skill implementations so they satisfy
// Static without repeating the marker method.
type StaticBase struct{}

// StaticSkill implements Static.
func (StaticBase) StaticSkill() bool { return true }

// Source is the black-box abstraction over where dynamically generated
// skills come from: generate_skill writes a
// new source file, the loader rescans. Implementations are not expected to
// sandbox what they load: generated skill code runs as trusted source,
// not behind a security boundary.
type Source interface {
	// Write persists a new skill's source under name, ready for Scan to
	// pick up.
	Write(name string, source []byte) error
	// Scan loads every skill source currently on disk and returns the
	// constructed Skill set.
	Scan(ctx context.Context) ([]Skill, error)
}

// Registry holds the combined static + dynamic skill set available to an
// agent. Registration during Refresh happens only from the owning agent's
// task; the mutex here only protects concurrent
// reads from other agents sharing one process-wide registry instance.
type Registry struct {
	mu      sync.RWMutex
	skills  map[string]Skill
	dynSrc  Source
}

// NewRegistry returns a Registry seeded with the given static skills.
func NewRegistry(static ...Skill) *Registry {
	r := &Registry{skills: make(map[string]Skill)}
	for _, s := range static {
		r.skills[strings.ToLower(s.Name())] = s
	}
	return r
}

// SetSource attaches the dynamic skill source provider used by Refresh.
func (r *Registry) SetSource(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynSrc = src
}

// Refresh rescans the dynamic skill source (if any) and merges its results
// in, never overwriting a statically-registered name of the same key (a
// generated skill cannot shadow a shipped one).
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	src := r.dynSrc
	r.mu.Unlock()
	if src == nil {
		return nil
	}
	dynamic, err := src.Scan(ctx)
	if err != nil {
		return fmt.Errorf("skill registry: scan dynamic source: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range dynamic {
		key := strings.ToLower(s.Name())
		if existing, ok := r.skills[key]; ok {
			if _, isStatic := existing.(Static); isStatic {
				continue
			}
		}
		r.skills[key] = s
	}
	return nil
}

// Get looks up a skill by name, case-insensitively.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Names returns every registered skill name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Name())
	}
	sort.Strings(out)
	return out
}

// StaticNames returns the names of every statically-defined skill currently
// registered.
func (r *Registry) StaticNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, s := range r.skills {
		if _, ok := s.(Static); ok {
			out = append(out, s.Name())
		}
	}
	sort.Strings(out)
	return out
}
