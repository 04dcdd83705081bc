// Package agent owns the lifecycle of every running brain.Brain in the
// process: one per configured role, each with its own game client
// connection, memory store, executor, and dispatcher, sharing only the
// process-wide bulletin board and event bus.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/voxelbrain/internal/brain"
	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/combat"
	"github.com/basket/voxelbrain/internal/commands"
	"github.com/basket/voxelbrain/internal/config"
	"github.com/basket/voxelbrain/internal/dispatch"
	"github.com/basket/voxelbrain/internal/executor"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/handlers"
	"github.com/basket/voxelbrain/internal/llm"
	"github.com/basket/voxelbrain/internal/memory"
	gobrainotel "github.com/basket/voxelbrain/internal/otel"
	"github.com/basket/voxelbrain/internal/safety"
	"github.com/basket/voxelbrain/internal/skill"
	"github.com/basket/voxelbrain/internal/store"
	"github.com/basket/voxelbrain/internal/worldctx"
)

// RunningAgent holds one role's full collaborator stack and its running
// brain.
type RunningAgent struct {
	Role     config.RoleConfig
	Brain    *brain.Brain
	Client   gameclient.Client
	Memory   *memory.Store
	Registry *skill.Registry
	Executor *executor.Executor

	cancel    context.CancelFunc
	startedAt time.Time
}

// ClientFactory constructs the game-client collaborator for one role's
// credentials. main.go supplies this; tests can substitute a fake.
type ClientFactory func(cfg config.RoleConfig) (gameclient.Client, error)

// Registry manages the lifecycle of every running brain.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*RunningAgent

	sqlStore      *store.Store
	bus           *bus.Bus
	bulletinBoard *bulletin.Board
	blacklist     *failure.ShortTermBlacklist
	combatClient  *combat.Client
	metrics       *gobrainotel.Metrics
	skills        []skill.Skill
	memoryDir     string
	logger        *slog.Logger
	newClient     ClientFactory
}

// Deps bundles the process-wide collaborators shared by every role.
type Deps struct {
	SQLStore  *store.Store
	Bus       *bus.Bus
	Bulletin  *bulletin.Board
	Blacklist *failure.ShortTermBlacklist
	Combat    *combat.Client       // nil disables neural_combat for every role
	Metrics   *gobrainotel.Metrics // optional brain-cycle instruments
	Skills    []skill.Skill        // the static skill set, shared read-only across roles
	MemoryDir string
	Logger    *slog.Logger
	NewClient ClientFactory
}

// NewRegistry creates a Registry that manages brain lifecycles.
func NewRegistry(d Deps) *Registry {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:        make(map[string]*RunningAgent),
		sqlStore:      d.SQLStore,
		bus:           d.Bus,
		bulletinBoard: d.Bulletin,
		blacklist:     d.Blacklist,
		combatClient:  d.Combat,
		metrics:       d.Metrics,
		skills:        d.Skills,
		memoryDir:     d.MemoryDir,
		logger:        logger,
		newClient:     d.NewClient,
	}
}

// StartRole builds the full collaborator stack for one role and starts its
// brain. Each role's blacklist and skill registry are its own; the bulletin,
// bus, and SQLite store are shared process-wide.
func (r *Registry) StartRole(ctx context.Context, rc config.RoleConfig, tuning config.BrainTuningConfig, llmCfg llm.Config, sanitizer *safety.Sanitizer) error {
	if rc.Name == "" {
		return fmt.Errorf("role name must be non-empty")
	}

	r.mu.RLock()
	_, exists := r.agents[rc.Name]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("role %q already running", rc.Name)
	}

	client, err := r.newClient(rc)
	if err != nil {
		return fmt.Errorf("start client for role %q: %w", rc.Name, err)
	}

	memStore, err := memory.Open(fmt.Sprintf("%s/memory-%s.json", r.memoryDir, rc.Name))
	if err != nil {
		return fmt.Errorf("open memory for role %q: %w", rc.Name, err)
	}

	registry := skill.NewRegistry(r.skills...)
	blacklist := failure.NewShortTermBlacklist()
	exec := executor.New(rc.Name, registry, memStore, r.sqlStore, r.bus, r.logger)
	exec.SetMetrics(r.metrics)

	// Startup heal: statically-defined skill names leave the persistent
	// broken set, since their source may have been fixed since last run.
	healed, err := memStore.HealStaticSkills(registry.StaticNames())
	if err != nil {
		return fmt.Errorf("heal static skills for role %q: %w", rc.Name, err)
	}
	for _, name := range healed {
		r.logger.Info("broken skill healed on startup", "role", rc.Name, "skill", name)
		if r.sqlStore != nil {
			if err := r.sqlStore.ClearSkillFaults(ctx, name); err != nil {
				r.logger.Warn("clear skill faults failed", "skill", name, "error", err)
			}
		}
	}

	// Session precondition carry-forward: a skill whose last attempts all
	// died on the same stable prerequisite starts this session blacklisted
	// with that prerequisite's hint.
	bySkill := map[string][]memory.SkillAttempt{}
	for _, a := range memStore.Snapshot().SkillHistory {
		bySkill[a.Skill] = append(bySkill[a.Skill], a)
	}
	failure.CarryForwardSessionPreconditions(blacklist, bySkill)
	formatter := worldctx.New(client, memStore)
	llmClient := llm.New(ctx, llmCfg)

	steps := 0
	dispatcher := &dispatch.Dispatcher{
		Role:               rc.ToRole(),
		Client:             client,
		Blacklist:          blacklist,
		Memory:             memStore,
		Bulletin:           r.bulletinBoard,
		Bus:                r.bus,
		Executor:           exec,
		Registry:           registry,
		Combat:             r.combatClient,
		Metrics:            r.metrics,
		AgentName:          rc.Name,
		Logger:             r.logger,
		GoalStepsRemaining: &steps,
	}

	handlerDeps := handlers.Deps{
		LLM:             llmClient,
		Dispatcher:      dispatcher,
		Role:            rc.ToRole(),
		Bulletin:        r.bulletinBoard,
		Blacklist:       blacklist,
		Memory:          memStore,
		Formatter:       formatter,
		Sanitizer:       sanitizer,
		Bus:             r.bus,
		AgentName:       rc.Name,
		Logger:          r.logger,
		CombatAvailable: rc.CombatAvailable && r.combatClient != nil,
	}

	cmdHandler := &commands.Handler{
		Client:   client,
		Executor: exec,
		Registry: registry,
		Memory:   memStore,
		Agent:    rc.Name,
		Logger:   r.logger,
	}

	b := brain.New(tuning.ToBrainConfig(), brain.Deps{
		Deps:     handlerDeps,
		Client:   client,
		Executor: exec,
		Metrics:  r.metrics,
		Commands: cmdHandler,
	})

	runCtx, cancel := context.WithCancel(ctx)
	b.Start(runCtx)

	ra := &RunningAgent{
		Role:      rc,
		Brain:     b,
		Client:    client,
		Memory:    memStore,
		Registry:  registry,
		Executor:  exec,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	r.mu.Lock()
	if _, dup := r.agents[rc.Name]; dup {
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("role %q already running (concurrent start)", rc.Name)
	}
	r.agents[rc.Name] = ra
	r.mu.Unlock()

	r.logger.Info("role started", "role", rc.Name)
	return nil
}

// StopRole stops and removes one running role's brain.
func (r *Registry) StopRole(name string) error {
	r.mu.Lock()
	ra, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("role %q not running", name)
	}
	delete(r.agents, name)
	r.mu.Unlock()

	ra.Brain.Stop()
	ra.cancel()
	r.logger.Info("role stopped", "role", name)
	return nil
}

// QueueChat routes an inbound message to a running role's brain, satisfying
// channels.ChatRouter. Callers name the role by its configured Name.
func (r *Registry) QueueChat(agent, username, text string, paid bool) error {
	ra := r.Get(agent)
	if ra == nil {
		return fmt.Errorf("role %q not running", agent)
	}
	ra.Brain.QueueChat(username, text, paid)
	return nil
}

// Get returns a running role's agent, or nil if not running.
func (r *Registry) Get(name string) *RunningAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// List returns every running role.
func (r *Registry) List() []*RunningAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RunningAgent, 0, len(r.agents))
	for _, ra := range r.agents {
		out = append(out, ra)
	}
	return out
}

// StopAll stops every running brain.
func (r *Registry) StopAll() {
	r.mu.RLock()
	agents := make([]*RunningAgent, 0, len(r.agents))
	for _, ra := range r.agents {
		agents = append(agents, ra)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ra := range agents {
		wg.Add(1)
		go func(ra *RunningAgent) {
			defer wg.Done()
			ra.Brain.Stop()
			ra.cancel()
		}(ra)
	}
	wg.Wait()
}
