// Package brain implements the event-driven cooperative scheduler
// that arbitrates the four Decision Handlers for one running agent. It owns
// the agent's event.Queue, its timers (idle, hostile scan, vitals/damage
// watch), the safety overrides that pre-empt the strategic handler, and the
// brain-level cooldowns that keep reactive/strategic calls from stacking
// into a storm. The dispatch loop is a single long-running goroutine
// driven by a wake channel plus a fallback tick, with a stored
// context.CancelFunc for cooperative shutdown rather than a preemptive kill.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/commands"
	"github.com/basket/voxelbrain/internal/event"
	"github.com/basket/voxelbrain/internal/executor"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/handlers"
	gobrainotel "github.com/basket/voxelbrain/internal/otel"
	"github.com/basket/voxelbrain/internal/safety"
)

// Config tunes the scheduler's timers, cooldowns, and safety thresholds.
// Zero values are replaced with the defaults below in New.
type Config struct {
	IdleInterval        time.Duration
	HostileScanInterval time.Duration
	HostileScanRadius   float64
	HostileDedupWindow  time.Duration
	ReactiveCooldown    time.Duration
	StrategicCooldown   time.Duration
	WaterEscapeDelay    time.Duration
	LeashHardMultiplier float64
	PollInterval        time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = 10 * time.Second
	}
	if c.HostileScanInterval <= 0 {
		c.HostileScanInterval = 2 * time.Second
	}
	if c.HostileScanRadius <= 0 {
		c.HostileScanRadius = 16
	}
	if c.HostileDedupWindow <= 0 {
		c.HostileDedupWindow = 10 * time.Second
	}
	if c.ReactiveCooldown <= 0 {
		c.ReactiveCooldown = 3 * time.Second
	}
	if c.StrategicCooldown <= 0 {
		c.StrategicCooldown = 8 * time.Second
	}
	if c.WaterEscapeDelay <= 0 {
		c.WaterEscapeDelay = 3 * time.Second
	}
	if c.LeashHardMultiplier <= 0 {
		c.LeashHardMultiplier = 1.5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// Deps bundles the handler collaborators plus the two extra collaborators
// the brain itself needs directly: the game client (safety overrides,
// hostile scanning) and the executor (skill-busy check, abort on stop).
type Deps struct {
	handlers.Deps
	Client   gameclient.Client
	Executor *executor.Executor
	Tracer   trace.Tracer            // optional; nil disables span emission
	Metrics  *gobrainotel.Metrics    // optional; nil disables instrument recording

	// Commands intercepts /eval and !goal lines before they reach
	// chat ingestion. Nil disables command interception entirely.
	Commands *commands.Handler
}

// Brain is the per-agent scheduler. One Brain backs one running agent.
type Brain struct {
	cfg Config
	deps Deps

	strategic handlers.Strategic
	reactive  handlers.Reactive
	critic    handlers.Critic
	chatH     handlers.Chat

	mu              sync.Mutex
	queue           *event.Queue
	goal            handlers.GoalState
	lastResult      string
	pendingChat     []string
	lastReactiveAt  time.Time
	lastStrategicAt time.Time
	hostileFP       string
	hostileFPAt     time.Time

	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger
}

// New builds a Brain from cfg and deps. It does not start any goroutine;
// call Start for that.
func New(cfg Config, deps Deps) *Brain {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Brain{
		cfg:       cfg,
		deps:      deps,
		strategic: handlers.Strategic{Deps: deps.Deps},
		reactive:  handlers.Reactive{Deps: deps.Deps},
		critic:    handlers.Critic{Deps: deps.Deps},
		chatH:     handlers.Chat{Deps: deps.Deps},
		queue:     event.NewQueue(),
		wake:      make(chan struct{}, 1),
		logger:    logger,
	}
}

// Start launches the timer goroutine and the dispatch loop goroutine. It
// returns immediately; Stop (or cancelling ctx) shuts both down.
func (b *Brain) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.runTimers(runCtx)
	go b.runDispatchLoop(runCtx)
}

// Stop cancels the brain's timers and dispatch loop and aborts any in-flight
// skill. It does not block for the goroutines to exit.
func (b *Brain) Stop() {
	if b.deps.Executor != nil {
		b.deps.Executor.Abort()
	}
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Brain) publish(topic string, payload any) {
	if b.deps.Bus == nil {
		return
	}
	b.deps.Bus.Publish(topic, payload)
}

func (b *Brain) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Brain) push(e event.Event) {
	b.mu.Lock()
	ok := b.queue.Push(e)
	b.mu.Unlock()
	if ok {
		b.signal()
	}
}

// QueueChat enqueues one inbound viewer message. A
// paid-tier message is reclassified as strategic (priority 1) to force
// re-planning rather than routed to the chat handler.
func (b *Brain) QueueChat(username, text string, paidTier bool) {
	result := safety.FilterViewerMessage(b.deps.Sanitizer, text)
	b.publish(bus.TopicChatReceived, bus.ChatReceivedEvent{Agent: b.deps.AgentName, Username: username, Text: result.Cleaned, PaidTier: paidTier})

	b.mu.Lock()
	b.pendingChat = append(b.pendingChat, fmt.Sprintf("%s: %s", username, result.Cleaned))
	if len(b.pendingChat) > 20 {
		b.pendingChat = b.pendingChat[len(b.pendingChat)-20:]
	}
	b.mu.Unlock()

	// A filtered-out message still reaches the strategic prompt as its
	// cleaned placeholder, but never earns a chat reply.
	if !result.Safe {
		return
	}

	if paidTier {
		b.push(event.Event{Kind: event.Strategic, Priority: 1, Timestamp: time.Now()})
		return
	}
	b.push(event.Event{Kind: event.Chat, Priority: 4, Timestamp: time.Now(), Payload: handlers.ChatInput{Username: username, Text: result.Cleaned}})
}

// TriggerReplan enqueues a strategic event from an external source, e.g. the !goal chat command or an operator CLI call.
func (b *Brain) TriggerReplan() {
	b.push(event.Event{Kind: event.Strategic, Priority: 5, Timestamp: time.Now()})
}

// runTimers owns the idle timer, the hostile scanner, and the game client's
// own event stream (vitals/damage/chat). It never touches the queue
// directly except through push, so it never races the dispatch loop.
func (b *Brain) runTimers(ctx context.Context) {
	idle := time.NewTimer(b.cfg.IdleInterval)
	defer idle.Stop()
	hostiles := time.NewTicker(b.cfg.HostileScanInterval)
	defer hostiles.Stop()

	var clientEvents <-chan gameclient.Event
	if b.deps.Client != nil {
		clientEvents = b.deps.Client.Events()
	}

	var deferred <-chan bus.Event
	if b.deps.Bus != nil {
		sub := b.deps.Bus.Subscribe(bus.TopicCycleDeferred)
		defer b.deps.Bus.Unsubscribe(sub)
		deferred = sub.Ch()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			b.push(event.Event{Kind: event.Strategic, Priority: 5, Timestamp: time.Now()})
			idle.Reset(b.cfg.IdleInterval)
		case <-hostiles.C:
			b.scanHostiles(ctx)
		case ev, ok := <-clientEvents:
			if !ok {
				clientEvents = nil
				continue
			}
			b.handleClientEvent(ctx, ev)
		case d, ok := <-deferred:
			if !ok {
				deferred = nil
				continue
			}
			if ce, ok := d.Payload.(bus.CycleEvent); !ok || ce.Agent == b.deps.AgentName {
				b.push(event.Event{Kind: event.Strategic, Priority: 5, Timestamp: time.Now()})
			}
		}
	}
}

func (b *Brain) handleClientEvent(ctx context.Context, ev gameclient.Event) {
	switch ev.Kind {
	case "health", "damage_taken":
		if b.deps.Executor != nil && b.deps.Executor.IsRunning() {
			return
		}
		snap, err := b.deps.Client.Snapshot(context.Background())
		if err != nil {
			return
		}
		switch {
		case snap.Health <= 6:
			b.push(event.Event{Kind: event.Reactive, Priority: 0, Timestamp: time.Now(), Payload: reactivePayload{threat: "low health", dist: 0}})
		case ev.Kind == "damage_taken":
			b.push(event.Event{Kind: event.Reactive, Priority: 0, Timestamp: time.Now(), Payload: reactivePayload{threat: "took damage", dist: 0}})
		case snap.Food <= 6:
			b.push(event.Event{Kind: event.Reactive, Priority: 2, Timestamp: time.Now(), Payload: reactivePayload{threat: "low food", dist: 0}})
		}
	case "chat":
		if b.deps.Commands != nil && b.deps.Commands.Try(ctx, ev.Who, ev.Text) {
			return
		}
		b.QueueChat(ev.Who, ev.Text, false)
	}
}

type reactivePayload struct {
	threat string
	dist   float64
}

// scanHostiles checks the current snapshot for hostile mobs within
// HostileScanRadius and pushes a reactive event, deduped by a fingerprint
// of the hostile set over HostileDedupWindow so a standing threat does not
// re-trigger every tick.
func (b *Brain) scanHostiles(ctx context.Context) {
	if b.deps.Client == nil {
		return
	}
	if b.deps.Executor != nil && b.deps.Executor.IsRunning() {
		return
	}
	snap, err := b.deps.Client.Snapshot(ctx)
	if err != nil {
		return
	}
	var nearest *gameclient.Entity
	names := make([]string, 0, len(snap.Entities))
	for i := range snap.Entities {
		e := &snap.Entities[i]
		if e.Type != "hostile" || e.Distance > b.cfg.HostileScanRadius {
			continue
		}
		names = append(names, e.Name)
		if nearest == nil || e.Distance < nearest.Distance {
			nearest = e
		}
	}
	if nearest == nil {
		return
	}
	sort.Strings(names)
	fp := strings.Join(names, ",")

	b.mu.Lock()
	dup := fp == b.hostileFP && time.Since(b.hostileFPAt) < b.cfg.HostileDedupWindow
	if !dup {
		b.hostileFP = fp
		b.hostileFPAt = time.Now()
	}
	b.mu.Unlock()
	if dup {
		return
	}
	b.push(event.Event{Kind: event.Reactive, Priority: 1, Timestamp: time.Now(), Payload: reactivePayload{threat: nearest.Name, dist: nearest.Distance}})
}

// runDispatchLoop is the single goroutine that pops events and invokes
// handlers. Because skill execution (internal/executor) is synchronous, the
// loop is naturally serialized: nothing else runs while a skill is active.
func (b *Brain) runDispatchLoop(ctx context.Context) {
	defer close(b.done)
	poll := time.NewTicker(b.cfg.PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		case <-poll.C:
		}
		b.drain(ctx)
	}
}

func (b *Brain) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		b.mu.Lock()
		ev, ok := b.queue.Pop()
		b.mu.Unlock()
		if !ok {
			return
		}
		b.handle(ctx, ev)
	}
}

func (b *Brain) handle(ctx context.Context, ev event.Event) {
	// If a skill is active and the event is not reactive, defer it.
	// In practice the dispatch loop never reaches this check mid-skill
	// (skill execution blocks this very goroutine); it guards the window
	// between a skill finishing and the loop's next iteration.
	if ev.Kind != event.Reactive && b.deps.Executor != nil && b.deps.Executor.IsRunning() {
		if b.deps.Metrics != nil {
			b.deps.Metrics.EventsDeferred.Add(ctx, 1)
		}
		if ev.Kind == event.Strategic {
			b.rePushAfter(ev, 3*time.Second)
		}
		return
	}

	now := time.Now()
	switch ev.Kind {
	case event.Reactive:
		if wait := b.cfg.ReactiveCooldown - now.Sub(b.reactiveAt()); wait > 0 {
			b.rePushAfter(ev, wait)
			return
		}
		b.setReactiveAt(now)
	case event.Strategic:
		if wait := b.cfg.StrategicCooldown - now.Sub(b.strategicAt()); wait > 0 {
			b.rePushAfter(ev, wait)
			return
		}
		b.setStrategicAt(now)
	}

	traceID := uuid.NewString()
	ctx, span := b.startSpan(ctx, ev.Kind.String(), traceID)
	b.publish(bus.TopicCycleStarted, bus.CycleEvent{Agent: b.deps.AgentName, TraceID: traceID, Kind: ev.Kind.String(), Priority: ev.Priority})
	started := now

	// A panicking handler ends this cycle, never the loop.
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("handler_panicked", slog.String("kind", ev.Kind.String()), slog.Any("panic", r))
			}
		}()
		switch ev.Kind {
		case event.Strategic:
			b.runStrategic(ctx, traceID)
		case event.Reactive:
			b.runReactive(ctx, traceID, ev.Payload)
		case event.Critic:
			b.runCritic(ctx, traceID, ev.Payload)
		case event.Chat:
			b.runChat(ctx, ev.Payload)
		}
	}()

	if b.deps.Metrics != nil {
		b.deps.Metrics.CycleDuration.Record(ctx, time.Since(started).Seconds())
	}
	b.publish(bus.TopicCycleCompleted, bus.CycleEvent{Agent: b.deps.AgentName, TraceID: traceID, Kind: ev.Kind.String()})
	if span != nil {
		span.End()
	}
}

func (b *Brain) startSpan(ctx context.Context, kind, traceID string) (context.Context, trace.Span) {
	if b.deps.Tracer == nil {
		return ctx, nil
	}
	return gobrainotel.StartSpan(ctx, b.deps.Tracer, "brain.cycle."+kind,
		gobrainotel.AttrAgentID.String(b.deps.AgentName),
		gobrainotel.AttrCycleKind.String(kind),
		gobrainotel.AttrTraceID.String(traceID))
}

func (b *Brain) reactiveAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReactiveAt
}

func (b *Brain) setReactiveAt(t time.Time) {
	b.mu.Lock()
	b.lastReactiveAt = t
	b.mu.Unlock()
}

func (b *Brain) strategicAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStrategicAt
}

func (b *Brain) setStrategicAt(t time.Time) {
	b.mu.Lock()
	b.lastStrategicAt = t
	b.mu.Unlock()
}

func (b *Brain) rePushAfter(ev event.Event, delay time.Duration) {
	time.AfterFunc(delay, func() {
		b.push(ev)
	})
}

// runStrategic runs the safety overrides, and if none short-circuited the
// cycle, builds and runs the strategic handler.
func (b *Brain) runStrategic(ctx context.Context, traceID string) {
	if b.applySafetyOverrides(ctx, traceID) {
		return
	}
	if b.deps.Client == nil {
		return
	}
	snap, err := b.deps.Client.Snapshot(ctx)
	if err != nil {
		b.logger.Warn("strategic_snapshot_failed", slog.String("err", err.Error()))
		return
	}
	obs := ""
	if b.deps.Formatter != nil {
		obs = b.deps.Formatter.Format(ctx, snap)
	}

	b.mu.Lock()
	pending := b.pendingChat
	b.pendingChat = nil
	goal := b.goal
	lastResult := b.lastResult
	b.mu.Unlock()

	leash := b.leashWarning(snap)
	stash := b.stashNote()

	outcome, newGoal := b.strategic.Run(ctx, handlers.StrategicInput{
		Observation:  obs,
		PendingChat:  pending,
		Goal:         goal,
		LastResult:   lastResult,
		LeashWarning: leash,
		StashNote:    stash,
		TraceID:      traceID,
	})

	b.mu.Lock()
	b.goal = newGoal
	b.lastResult = outcome.Result
	b.mu.Unlock()

	b.queueCriticFor(outcome.Action, outcome.Result, outcome.Success, newGoal)
}

// runReactive rebuilds the short situational prompt from the triggering
// payload and the current snapshot.
func (b *Brain) runReactive(ctx context.Context, traceID string, payload any) {
	if b.deps.Client == nil {
		return
	}
	snap, err := b.deps.Client.Snapshot(ctx)
	if err != nil {
		return
	}
	threat, dist := "unknown threat", 0.0
	if rp, ok := payload.(reactivePayload); ok {
		threat, dist = rp.threat, rp.dist
	}

	outcome := b.reactive.Run(ctx, handlers.ReactiveInput{
		ThreatKind:     threat,
		ThreatDistance: dist,
		Health:         snap.Health,
		Food:           snap.Food,
		Equipment:      equipmentSummary(snap),
		FoodSummary:    foodSummary(snap),
		TraceID:        traceID,
	})

	b.mu.Lock()
	b.lastResult = outcome.Result
	goal := b.goal
	b.mu.Unlock()

	b.queueCriticFor(outcome.Action, outcome.Result, outcome.Success, goal)
}

func (b *Brain) runCritic(ctx context.Context, traceID string, payload any) {
	in, ok := payload.(handlers.CriticInput)
	if !ok {
		return
	}
	in.TraceID = traceID
	out := b.critic.Run(ctx, in)

	if out.GoalComplete {
		b.mu.Lock()
		b.goal = handlers.GoalState{}
		b.mu.Unlock()
	}
	if out.ReplanAfter > 0 {
		b.rePushAfter(event.Event{Kind: event.Strategic, Priority: 5, Timestamp: time.Now()}, out.ReplanAfter)
	}
	if out.Chained != nil {
		b.mu.Lock()
		b.lastResult = out.Chained.Result
		b.mu.Unlock()
	}
}

func (b *Brain) runChat(ctx context.Context, payload any) {
	in, ok := payload.(handlers.ChatInput)
	if !ok {
		return
	}
	b.mu.Lock()
	in.Activity = b.lastResult
	b.mu.Unlock()
	b.chatH.Run(ctx, in)
}

// queueCriticFor enqueues a critic event for any action not exempt per
// handlers.Skip. success is
// not itself consulted here: the critic judges success from the result
// text and current world state, not from the dispatcher's own regex.
func (b *Brain) queueCriticFor(action, result string, success bool, goal handlers.GoalState) {
	if handlers.Skip(action) {
		return
	}
	if b.deps.Client == nil {
		return
	}
	snap, err := b.deps.Client.Snapshot(context.Background())
	if err != nil {
		return
	}
	in := handlers.CriticInput{
		LastAction: action,
		Result:     result,
		Goal:       goal,
		Health:     snap.Health,
		Food:       snap.Food,
		Inventory:  inventorySummary(snap),
	}
	b.push(event.Event{Kind: event.Critic, Priority: 3, Timestamp: time.Now(), Payload: in})
}

// applySafetyOverrides runs the three safety checks in priority order.
// Each short-circuits the rest of the strategic cycle when it fires.
func (b *Brain) applySafetyOverrides(ctx context.Context, traceID string) bool {
	if b.deps.Client == nil {
		return false
	}
	snap, err := b.deps.Client.Snapshot(ctx)
	if err != nil {
		return false
	}

	if b.checkWater(ctx, snap) {
		return true
	}
	if b.checkTrapped(ctx, snap) {
		return true
	}
	if b.checkLeash(ctx, snap, traceID) {
		return true
	}
	return false
}

// checkWater teleports to the role's safe spawn if the agent is still in
// water or lava after a grace delay.
func (b *Brain) checkWater(ctx context.Context, snap gameclient.Snapshot) bool {
	feet, err := b.deps.Client.BlockAt(ctx, snap.Position)
	if err != nil || feet == nil {
		return false
	}
	if feet.Name != "water" && feet.Name != "lava" {
		return false
	}
	time.Sleep(b.cfg.WaterEscapeDelay)
	feet2, err := b.deps.Client.BlockAt(ctx, snap.Position)
	if err != nil || feet2 == nil || (feet2.Name != "water" && feet2.Name != "lava") {
		return false
	}
	if b.deps.Role.SafeSpawn == nil {
		return false
	}
	target := gameclient.Vec3{X: b.deps.Role.SafeSpawn.X, Y: b.deps.Role.SafeSpawn.Y, Z: b.deps.Role.SafeSpawn.Z}
	if err := b.deps.Client.Teleport(ctx, target); err == nil {
		b.logger.Warn("safety_water_teleport", slog.String("agent", b.deps.AgentName))
	}
	return true
}

// checkTrapped teleports up to y=80 when the agent is below y=55 and
// standing inside a diggable, non-air, non-water block.
func (b *Brain) checkTrapped(ctx context.Context, snap gameclient.Snapshot) bool {
	if snap.Position.Y >= 55 {
		return false
	}
	block, err := b.deps.Client.BlockAt(ctx, snap.Position)
	if err != nil || block == nil {
		return false
	}
	if block.Name == "air" || block.Name == "water" || !block.Diggable {
		return false
	}
	target := gameclient.Vec3{X: snap.Position.X, Y: 80, Z: snap.Position.Z}
	if err := b.deps.Client.Teleport(ctx, target); err == nil {
		b.logger.Warn("safety_trapped_teleport", slog.String("agent", b.deps.AgentName))
	}
	return true
}

// checkLeash dispatches a go_to home directly, skipping the LLM this cycle,
// when the agent has wandered beyond LeashRadius * LeashHardMultiplier.
func (b *Brain) checkLeash(ctx context.Context, snap gameclient.Snapshot, traceID string) bool {
	if b.deps.Role.Home == nil || b.deps.Role.LeashRadius <= 0 {
		return false
	}
	home := gameclient.Vec3{X: b.deps.Role.Home.X, Y: b.deps.Role.Home.Y, Z: b.deps.Role.Home.Z}
	dx, dz := float64(snap.Position.X-home.X), float64(snap.Position.Z-home.Z)
	dist := dx*dx + dz*dz
	hard := b.deps.Role.LeashRadius * b.cfg.LeashHardMultiplier
	if dist <= hard*hard {
		return false
	}
	outcome := b.deps.Dispatcher.Dispatch(ctx, traceID, "go_to", map[string]any{"x": home.X, "y": home.Y, "z": home.Z})
	b.mu.Lock()
	b.lastResult = outcome.Result
	b.mu.Unlock()
	return true
}

// leashWarning returns a prompt note once the agent has crossed 80% of its
// leash radius, so the strategic handler can choose to head back before the
// hard override fires.
func (b *Brain) leashWarning(snap gameclient.Snapshot) string {
	if b.deps.Role.Home == nil || b.deps.Role.LeashRadius <= 0 {
		return ""
	}
	home := b.deps.Role.Home
	dx, dz := float64(snap.Position.X-home.X), float64(snap.Position.Z-home.Z)
	dist := (dx*dx + dz*dz)
	warnAt := b.deps.Role.LeashRadius * 0.8
	if dist < warnAt*warnAt {
		return ""
	}
	return fmt.Sprintf("leash warning: %.0f blocks from home, radius is %.0f", math.Sqrt(dist), b.deps.Role.LeashRadius)
}

func (b *Brain) stashNote() string {
	if !b.deps.Role.HasStash() {
		return ""
	}
	s := b.deps.Role.Stash
	return fmt.Sprintf("stash is at %d,%d,%d", s.X, s.Y, s.Z)
}

func equipmentSummary(snap gameclient.Snapshot) string {
	var have []string
	for _, it := range snap.Inventory {
		switch {
		case strings.HasSuffix(it.Name, "_sword"):
			have = append(have, "sword")
		case strings.HasSuffix(it.Name, "_shield") || it.Name == "shield":
			have = append(have, "shield")
		case strings.HasSuffix(it.Name, "_bow") || it.Name == "bow":
			have = append(have, "bow")
		case strings.HasSuffix(it.Name, "_axe"):
			have = append(have, "axe")
		}
	}
	if len(have) == 0 {
		return "none"
	}
	return strings.Join(have, ", ")
}

func foodSummary(snap gameclient.Snapshot) string {
	var have []string
	for _, it := range snap.Inventory {
		if strings.Contains(it.Name, "cooked") || strings.Contains(it.Name, "bread") ||
			strings.Contains(it.Name, "apple") || strings.Contains(it.Name, "carrot") {
			have = append(have, fmt.Sprintf("%s x%d", it.Name, it.Count))
		}
	}
	if len(have) == 0 {
		return "none"
	}
	return strings.Join(have, ", ")
}

func inventorySummary(snap gameclient.Snapshot) string {
	if len(snap.Inventory) == 0 {
		return "empty"
	}
	parts := make([]string, 0, len(snap.Inventory))
	for _, it := range snap.Inventory {
		parts = append(parts, fmt.Sprintf("%s x%d", it.Name, it.Count))
	}
	return strings.Join(parts, ", ")
}
