// Package commands intercepts the in-game chat command surface
// before a line ever reaches chat ingestion: /eval for ad-hoc skill testing
// and !goal for operator control of the persistent season goal.
// Prefix-match then delegate; unrecognized lines fall through to normal
// chat ingestion.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/basket/voxelbrain/internal/executor"
	"github.com/basket/voxelbrain/internal/gameclient"
	"github.com/basket/voxelbrain/internal/memory"
	"github.com/basket/voxelbrain/internal/skill"
)

// Handler intercepts chat lines matching the command surface. A
// brain hands every inbound chat line to Try before queuing it as a normal
// viewer message; a true return means the line was a command and must not
// be queued.
type Handler struct {
	Client   gameclient.Client
	Executor *executor.Executor
	Registry *skill.Registry
	Memory   *memory.Store
	Agent    string
	Logger   *slog.Logger
}

func (h Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h Handler) reply(ctx context.Context, text string) {
	if h.Client == nil {
		return
	}
	if err := h.Client.SendChat(ctx, text); err != nil {
		h.logger().Warn("command_reply_failed", "err", err.Error())
	}
}

// Try intercepts a chat line. It reports whether the line was a recognized
// command (and therefore already handled) so the caller can skip normal
// chat-handler queuing.
func (h Handler) Try(ctx context.Context, who, text string) bool {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "/eval"):
		h.handleEval(ctx, strings.TrimSpace(strings.TrimPrefix(trimmed, "/eval")))
		return true
	case strings.HasPrefix(trimmed, "!goal"):
		h.handleGoal(ctx, strings.TrimSpace(strings.TrimPrefix(trimmed, "!goal")))
		return true
	default:
		return false
	}
}

// handleEval implements `/eval <name>` and `/eval all [filter]`.
func (h Handler) handleEval(ctx context.Context, rest string) {
	if rest == "" {
		h.reply(ctx, "usage: /eval <name> | /eval all [filter]")
		return
	}

	fields := strings.Fields(rest)
	if fields[0] == "all" {
		filter := ""
		if len(fields) > 1 {
			filter = fields[1]
		}
		h.evalAll(ctx, filter)
		return
	}

	h.evalOne(ctx, fields[0])
}

func (h Handler) evalOne(ctx context.Context, name string) {
	if h.Registry == nil || h.Executor == nil {
		h.reply(ctx, "eval unavailable: no skill registry")
		return
	}
	if _, ok := h.Registry.Get(name); !ok {
		h.reply(ctx, fmt.Sprintf("eval %s: unknown skill", name))
		return
	}
	state := skill.State{Client: h.Client, AgentName: h.Agent}
	result := h.Executor.Run(ctx, state, name, nil, nil)
	h.reply(ctx, fmt.Sprintf("eval %s: %s", name, result))
}

func (h Handler) evalAll(ctx context.Context, filter string) {
	if h.Registry == nil || h.Executor == nil {
		h.reply(ctx, "eval unavailable: no skill registry")
		return
	}
	names := h.Registry.Names()
	sort.Strings(names)
	state := skill.State{Client: h.Client, AgentName: h.Agent}
	ran := 0
	for _, name := range names {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		ran++
		result := h.Executor.Run(ctx, state, name, nil, nil)
		h.reply(ctx, fmt.Sprintf("eval %s: %s", name, result))
	}
	if ran == 0 {
		h.reply(ctx, fmt.Sprintf("eval all: no skills matched %q", filter))
	}
}

// handleGoal implements `!goal set/clear/show`.
func (h Handler) handleGoal(ctx context.Context, rest string) {
	if h.Memory == nil {
		h.reply(ctx, "goal unavailable: no memory store")
		return
	}

	fields := strings.SplitN(rest, " ", 2)
	switch fields[0] {
	case "set":
		if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
			h.reply(ctx, "usage: !goal set <text>")
			return
		}
		goal := strings.TrimSpace(fields[1])
		if err := h.Memory.SetSeasonGoal(&goal); err != nil {
			h.reply(ctx, fmt.Sprintf("goal set failed: %v", err))
			return
		}
		h.reply(ctx, fmt.Sprintf("season goal set: %s", goal))
	case "clear":
		if err := h.Memory.SetSeasonGoal(nil); err != nil {
			h.reply(ctx, fmt.Sprintf("goal clear failed: %v", err))
			return
		}
		h.reply(ctx, "season goal cleared")
	case "show":
		goal := h.Memory.SeasonGoal()
		if goal == nil || *goal == "" {
			h.reply(ctx, "no season goal set")
			return
		}
		h.reply(ctx, fmt.Sprintf("season goal: %s", *goal))
	default:
		h.reply(ctx, "usage: !goal set <text> | !goal clear | !goal show")
	}
}
