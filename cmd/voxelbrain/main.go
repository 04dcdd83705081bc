// Command voxelbrain is the composition root: it loads config, wires every
// collaborator package together, starts one brain per configured role, and
// serves a minimal status surface for the status/doctor subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/basket/voxelbrain/internal/agent"
	"github.com/basket/voxelbrain/internal/audit"
	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/bus"
	"github.com/basket/voxelbrain/internal/channels"
	"github.com/basket/voxelbrain/internal/combat"
	"github.com/basket/voxelbrain/internal/config"
	"github.com/basket/voxelbrain/internal/cron"
	"github.com/basket/voxelbrain/internal/failure"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/gameclient/fake"
	"github.com/basket/voxelbrain/internal/llm"
	"github.com/basket/voxelbrain/internal/otel"
	"github.com/basket/voxelbrain/internal/overlay"
	"github.com/basket/voxelbrain/internal/policy"
	"github.com/basket/voxelbrain/internal/safety"
	"github.com/basket/voxelbrain/internal/sandbox/wasm"
	"github.com/basket/voxelbrain/internal/skills"
	"github.com/basket/voxelbrain/internal/skills/builtin"
	"github.com/basket/voxelbrain/internal/store"
	"github.com/basket/voxelbrain/internal/telemetry"
	"github.com/basket/voxelbrain/internal/tuiview"
)

// Version is reported by the doctor/status subcommands.
const Version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		return runAgent(ctx)
	}

	switch args[0] {
	case "doctor":
		return runDoctorCommand(ctx, args[1:])
	case "status":
		return runStatusCommand(ctx, args[1:])
	case "skill":
		return runSkillCommand(ctx, args[1:])
	case "run", "start":
		return runAgent(ctx)
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: voxelbrain [run|status|skill|doctor] ...")
}

// runAgent is the long-running server: it loads config, starts one brain per
// role, and serves a status surface until interrupted.
func runAgent(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	if cfg.NeedsGenesis {
		fmt.Fprintf(os.Stderr, "no config.yaml at %s; run `voxelbrain doctor` for guidance\n", cfg.HomeDir)
		return 1
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	otelProvider, err := otel.Init(ctx, otel.Config{Enabled: false})
	if err != nil {
		logger.Error("otel init failed", "error", err)
		return 1
	}
	defer otelProvider.Shutdown(context.Background())

	brainMetrics, err := otel.NewMetrics(otelProvider.Meter)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		logger.Error("audit init failed", "error", err)
		return 1
	}
	defer audit.Close()

	pol, err := policy.Load(filepath.Join(cfg.HomeDir, "policy.yaml"))
	if err != nil {
		logger.Error("policy load failed", "error", err)
		return 1
	}
	livePolicy := policy.NewLivePolicy(pol, filepath.Join(cfg.HomeDir, "policy.yaml"))

	sqlStore, err := store.Open(cfg.Memory.SQLitePath)
	if err != nil {
		logger.Error("store open failed", "error", err)
		return 1
	}
	defer sqlStore.Close()

	eventBus := bus.NewWithLogger(logger)
	board := bulletin.New(eventBus)

	skillSet := builtin.All()

	extraDir := ""
	if len(cfg.Memory.SkillsExtra) > 0 {
		extraDir = cfg.Memory.SkillsExtra[0]
	}
	// generatedDir is scanned as the loader's project slot so a freshly
	// written skill is picked up on the next Refresh.
	if err := os.MkdirAll(cfg.Memory.GeneratedDir, 0o755); err != nil {
		logger.Error("create generated skills dir failed", "error", err)
		return 1
	}
	loader := skills.NewLoader(cfg.Memory.GeneratedDir, cfg.Memory.SkillsDir, extraDir, logger)
	generatedSource := skills.NewGeneratedSource(loader, cfg.Memory.GeneratedDir, cfg.Memory.Dir, livePolicy, logger)

	var combatClient *combat.Client
	if cfg.Combat.Enabled && cfg.Combat.Addr != "" {
		combatClient = combat.New(cfg.Combat.Addr)
	}

	registry := agent.NewRegistry(agent.Deps{
		SQLStore:  sqlStore,
		Bus:       eventBus,
		Bulletin:  board,
		Blacklist: failure.NewShortTermBlacklist(),
		Combat:    combatClient,
		Metrics:   brainMetrics,
		Skills:    skillSet,
		MemoryDir: cfg.Memory.Dir,
		Logger:    logger,
		NewClient: func(rc config.RoleConfig) (gameclient.Client, error) {
			// The live game-protocol client is out of scope; every
			// role runs against the in-memory fake until one is wired.
			return fake.New(), nil
		},
	})

	// Generated Go-module skills run through the wasm host; hot-swap keeps
	// compiling and reloading them as generate_skill writes new sources.
	wasmHost, err := wasm.NewHost(ctx, wasm.Config{Store: sqlStore, Policy: livePolicy, Logger: logger})
	if err != nil {
		logger.Warn("wasm host unavailable; generated Go skills disabled", "error", err)
	} else {
		defer wasmHost.Close(context.Background())
		generatedSource.SetWASMHost(wasmHost)

		wasmWatcher := wasm.NewWatcher(cfg.Memory.GeneratedDir, wasmHost, logger)
		wasmWatcher.OnToolLoaded(func(string) { refreshSkillRegistries(ctx, registry, logger) })
		if err := wasmWatcher.Start(ctx); err != nil {
			logger.Warn("wasm hot-swap watcher not started", "error", err)
		} else {
			go drainWASMNotifications(ctx, wasmWatcher, logger)
		}
	}

	llmCfg := llm.Config{
		Provider:                 cfg.LLM.Provider,
		APIKey:                   cfg.LLMProviderAPIKey(),
		StrongModel:              cfg.LLM.StrongModel,
		FastModel:                cfg.LLM.FastModel,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	}
	sanitizer := safety.NewSanitizer()

	var memories []cron.AgentMemory
	for _, rc := range cfg.Roles {
		if err := registry.StartRole(ctx, rc, cfg.Brain, llmCfg, sanitizer); err != nil {
			logger.Error("start role failed", "role", rc.Name, "error", err)
			continue
		}
		ra := registry.Get(rc.Name)
		ra.Registry.SetSource(generatedSource)
		memories = append(memories, cron.AgentMemory{Agent: rc.Name, Store: ra.Memory})
	}
	// Pick up any generated skills already on disk from a previous run.
	refreshSkillRegistries(ctx, registry, logger)

	// Manifest skills written or edited on disk trigger a registry rescan
	// without waiting for an explicit generate_skill Refresh.
	skillWatcher := skills.NewWatcher([]string{cfg.Memory.GeneratedDir, cfg.Memory.SkillsDir, extraDir}, logger)
	if err := skillWatcher.Start(ctx); err != nil {
		logger.Warn("skill directory watcher not started", "error", err)
	} else {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-skillWatcher.Events():
					if !ok {
						return
					}
					refreshSkillRegistries(ctx, registry, logger)
				}
			}
		}()
	}

	// config.yaml/policy.yaml edits: policy changes apply live, config
	// changes are announced (roles and brains are built once at startup).
	cfgWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := cfgWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher not started", "error", err)
	} else {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-cfgWatcher.Events():
					if !ok {
						return
					}
					switch filepath.Base(ev.Path) {
					case "policy.yaml":
						if err := policy.ReloadFromFile(livePolicy, ev.Path); err != nil {
							logger.Warn("policy reload rejected; previous policy stays active", "error", err)
							continue
						}
						logger.Info("policy reloaded", "version", livePolicy.PolicyVersion())
					case "config.yaml":
						logger.Info("config.yaml changed; restart to apply role/brain changes")
					}
				}
			}
		}()
	}

	scheduler := cron.NewScheduler(cron.Config{
		Memories: memories,
		Bulletin: board,
		Logger:   logger,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if cfg.Channels.Telegram.Enabled {
		tg := channels.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, registry, logger, eventBus)
		go func() {
			if err := tg.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram channel stopped", "error", err)
			}
		}()
	}

	overlaySrv := overlay.NewServer(eventBus, board, logger)
	srv := newStatusServer(registry, board, overlaySrv)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server stopped", "error", err)
		}
	}()

	logger.Info("voxelbrain started", "roles", len(cfg.Roles), "version", Version)

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("VOXELBRAIN_NO_TUI") == ""
	if interactive {
		if err := tuiview.Run(ctx, statusProvider(registry, board, eventBus)); err != nil && ctx.Err() == nil {
			logger.Warn("operator view exited", "error", err)
		}
		cancel()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	registry.StopAll()
	return 0
}

// refreshSkillRegistries rescans the dynamic skill source for every running
// role, picking up freshly written manifests and hot-swapped modules.
func refreshSkillRegistries(ctx context.Context, registry *agent.Registry, logger *slog.Logger) {
	for _, ra := range registry.List() {
		if err := ra.Registry.Refresh(ctx); err != nil {
			logger.Warn("skill registry refresh failed", "role", ra.Role.Name, "error", err)
		}
	}
}

// drainWASMNotifications forwards compile/load notifications from the
// hot-swap watcher into the structured log.
func drainWASMNotifications(ctx context.Context, w *wasm.Watcher, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.Notifications():
			switch n.Level {
			case "error":
				logger.Error("wasm hot-swap", "msg", n.Message)
			case "warn":
				logger.Warn("wasm hot-swap", "msg", n.Message)
			default:
				logger.Info("wasm hot-swap", "msg", n.Message)
			}
		}
	}
}
