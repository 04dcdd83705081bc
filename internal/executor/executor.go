// Package executor implements the Skill Executor: a single-slot,
// cancellable runner for the long-running multi-step procedures defined in
// internal/skill. Cancellation is a stored context.CancelFunc signalled
// from an explicit Abort, never a preemptive kill.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/memory"
	gobrainotel "github.com/basket/voxelbrain/internal/otel"
	"github.com/basket/voxelbrain/internal/skill"
	"github.com/basket/voxelbrain/internal/store"
)

// ErrAlreadyRunning is returned (wrapped into the result string, never as an
// error to callers
// is attempted while a skill is active.
var ErrAlreadyRunning = errors.New("executor: a skill is already running")

// gatherAttempts bounds the retry loop per missing ingredient.
const gatherAttempts = 4

// Executor is the per-agent single-slot skill runner.
type Executor struct {
	mu         sync.Mutex
	running    bool
	activeName string
	cancel     context.CancelFunc

	registry *skill.Registry
	memStore *memory.Store
	sqlStore *store.Store
	bus      *bus.Bus
	metrics  *gobrainotel.Metrics
	logger   *slog.Logger
	agent    string
}

// SetMetrics attaches optional skill-duration/failure instruments.
func (e *Executor) SetMetrics(m *gobrainotel.Metrics) { e.metrics = m }

// New returns an Executor bound to one agent's registry and stores.
func New(agent string, registry *skill.Registry, memStore *memory.Store, sqlStore *store.Store, eventBus *bus.Bus, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, memStore: memStore, sqlStore: sqlStore, bus: eventBus, logger: logger, agent: agent}
}

// IsRunning reports whether a skill is currently active.
func (e *Executor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ActiveName returns the currently running skill's name, if any.
func (e *Executor) ActiveName() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeName, e.running
}

// Abort cancels the active skill, if any. It is a no-op otherwise.
func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.cancel != nil {
		e.cancel()
	}
}

func (e *Executor) claim(ctx context.Context, name string) (context.Context, bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, false, fmt.Sprintf("Already running skill %s", e.activeName)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.activeName = name
	e.cancel = cancel
	return runCtx, true, ""
}

func (e *Executor) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.activeName = ""
	e.cancel = nil
}

// Run executes the named skill against state with params. The
// returned string is always safe to surface as a dispatch result; Run
// itself never returns a non-nil error — internal failures are folded into
// the result text, matching the dispatcher's "no error aborts the process"
// rule.
func (e *Executor) Run(ctx context.Context, state skill.State, name string, params map[string]any, progress skill.ProgressFunc) string {
	sk, ok := e.registry.Get(name)
	if !ok {
		return "Unknown action: " + name
	}

	runCtx, claimed, busyMsg := e.claim(ctx, sk.Name())
	if !claimed {
		return busyMsg
	}
	defer e.release()

	if progress == nil {
		progress = func(skill.Progress) {}
	}
	wrapped := func(p skill.Progress) {
		e.publishProgress(p)
		progress(p)
	}

	if err := validateParams(sk, params); err != nil {
		msg := fmt.Sprintf("%s failed: invalid params: %v", sk.Name(), err)
		e.record(runCtx, sk.Name(), false, 0, msg)
		return msg
	}

	started := time.Now()
	e.publish(bus.TopicSkillStarted, bus.SkillProgressEvent{Agent: e.agent, SkillName: sk.Name(), Active: true})

	if err := e.gather(runCtx, state, sk, params, wrapped); err != nil {
		msg := err.Error()
		e.record(runCtx, sk.Name(), false, time.Since(started).Seconds(), msg)
		e.finish(sk.Name(), msg)
		return msg
	}

	wrapped(skill.Progress{SkillName: sk.Name(), Phase: "executing", Progress: 0.3, Active: true})
	result, err := sk.Execute(runCtx, state, params, remapExecution(wrapped))
	duration := time.Since(started).Seconds()

	if err != nil {
		if errors.Is(runCtx.Err(), context.Canceled) {
			msg := sk.Name() + " was interrupted"
			e.record(runCtx, sk.Name(), false, duration, msg)
			e.finish(sk.Name(), msg)
			return msg
		}
		msg := fmt.Sprintf("%s failed: %v", sk.Name(), err)
		e.record(runCtx, sk.Name(), false, duration, msg)
		e.finish(sk.Name(), msg)
		return msg
	}
	if runCtx.Err() != nil {
		msg := sk.Name() + " was interrupted"
		e.record(runCtx, sk.Name(), false, duration, msg)
		e.finish(sk.Name(), msg)
		return msg
	}

	e.record(runCtx, sk.Name(), result.Success, duration, result.Message)
	e.finish(sk.Name(), result.Message)
	return result.Message
}

func (e *Executor) finish(name string, message string) {
	e.publish(bus.TopicSkillFinished, bus.SkillProgressEvent{
		Agent: e.agent, SkillName: name, Active: false, Message: message, Progress: 1,
	})
}

func (e *Executor) publishProgress(p skill.Progress) {
	e.publish(bus.TopicSkillProgress, bus.SkillProgressEvent{
		Agent: e.agent, SkillName: p.SkillName, Phase: p.Phase, Progress: p.Progress, Message: p.Message, Active: p.Active,
	})
}

func (e *Executor) publish(topic string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, payload)
}

// remapExecution rescales a skill's own [0,1] progress into the [0.3,1.0]
// execution-phase window, leaving [0,0.3] for gathering.
func remapExecution(inner skill.ProgressFunc) skill.ProgressFunc {
	return func(p skill.Progress) {
		p.Progress = 0.3 + p.Progress*0.7
		inner(p)
	}
}

// gather runs the material-estimation sub-phase: diff EstimateMaterials
// against current inventory via the crafting tree, then craft or mine the
// deficit, retrying each ingredient up to gatherAttempts times.
func (e *Executor) gather(ctx context.Context, state skill.State, sk skill.Skill, params map[string]any, progress skill.ProgressFunc) error {
	needs, err := sk.EstimateMaterials(ctx, state, params)
	if err != nil {
		return fmt.Errorf("%s failed: estimate materials: %w", sk.Name(), err)
	}
	if len(needs) == 0 {
		return nil
	}

	snap, err := state.Client.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", sk.Name(), err)
	}
	have := map[string]int{}
	for _, it := range snap.Inventory {
		have[it.Name] += it.Count
	}

	deficit := map[string]int{}
	for item, want := range needs {
		for k, v := range skill.Deficit(skill.ResolveItemAlias(item), want, have) {
			deficit[k] += v
		}
	}
	if len(deficit) == 0 {
		return nil
	}

	i, total := 0, len(deficit)
	for item, qty := range deficit {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i++
		progress(skill.Progress{SkillName: sk.Name(), Phase: "gathering", Progress: 0.3 * float64(i) / float64(total+1), Active: true, Message: "gathering " + item})

		var lastErr error
		for attempt := 0; attempt < gatherAttempts; attempt++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, ok := skill.CraftingTree[item]; ok {
				if err := state.Client.Craft(ctx, item, qty, nil); err == nil {
					lastErr = nil
					break
				} else {
					lastErr = err
					continue
				}
			}
			pos, err := state.Client.FindNearestBlock(ctx, func(n string) bool { return strings.Contains(n, item) }, 48)
			if err != nil || pos == nil {
				lastErr = fmt.Errorf("no source found for %s", item)
				continue
			}
			if err := state.Client.Dig(ctx, *pos); err != nil {
				lastErr = err
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("%s failed: missing: %s (%v)", sk.Name(), item, lastErr)
		}
	}
	return nil
}

func (e *Executor) record(ctx context.Context, name string, success bool, duration float64, notes string) {
	// Recording must survive the skill's own cancellation (an aborted
	// attempt is exactly the kind worth remembering).
	ctx = context.WithoutCancel(ctx)
	if e.metrics != nil {
		e.metrics.SkillDuration.Record(ctx, duration)
		if !success {
			e.metrics.SkillFailures.Add(ctx, 1)
		}
	}
	attempt := memory.SkillAttempt{Skill: name, Success: success, DurationSeconds: duration, Notes: notes, Timestamp: time.Now()}
	if e.memStore != nil {
		if err := e.memStore.RecordSkillAttempt(attempt); err != nil {
			e.logger.Warn("skill_attempt_record_failed", slog.String("skill", name), slog.String("err", err.Error()))
		}
	}
	if e.sqlStore != nil {
		if err := e.sqlStore.RecordSkillAttempt(ctx, e.agent, name, success, duration, notes, attempt.Timestamp); err != nil {
			e.logger.Warn("skill_attempt_store_failed", slog.String("skill", name), slog.String("err", err.Error()))
		}
	}
	if e.memStore == nil {
		return
	}
	attempts := e.memStore.RecentSkillAttempts(name)
	if failure.EvaluateBrokenPromotion(attempts) {
		if err := e.memStore.MarkSkillBroken(name); err != nil {
			e.logger.Warn("mark_skill_broken_failed", slog.String("skill", name), slog.String("err", err.Error()))
		}
		e.publish(bus.TopicSkillBrokenMarked, bus.BlacklistEvent{Agent: e.agent, Key: failure.SkillKey(name), Reason: "promoted to persistent broken-skill ledger"})
	}
}

func validateParams(sk skill.Skill, params map[string]any) error {
	sv, ok := sk.(skill.Schematized)
	if !ok {
		return nil
	}
	schemaSrc := sv.ParamSchema()
	if len(schemaSrc) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaSrc)))
	if err != nil {
		return err
	}
	if err := c.AddResource(sk.Name()+".schema.json", schemaDoc); err != nil {
		return err
	}
	schema, err := c.Compile(sk.Name() + ".schema.json")
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
