package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/voxelbrain/internal/bus"
)

// ChatRouter hands an inbound viewer message to the right agent's brain.
// internal/agent.Registry satisfies this by looking up a RunningAgent and
// calling its Brain.QueueChat. paid marks a priority-tier message, which
// the brain reclassifies into a strategic replan instead of a chat reply.
type ChatRouter interface {
	QueueChat(agent, username, text string, paid bool) error
}

// TelegramChannel bridges a Telegram chat to every running agent's chat
// input, and relays each agent's chat.responded events back to the chats that
// are allowed to see them. Polls with reconnect backoff; only allowlisted
// user IDs may talk to a brain.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	router     ChatRouter
	logger     *slog.Logger
	eventBus   *bus.Bus
	bot        *tgbotapi.BotAPI
}

// NewTelegramChannel creates a new Telegram channel. allowedIDs gates which
// Telegram user IDs may send commands; eventBus (optional) is subscribed to
// chat.responded to relay replies back to every allowed chat.
func NewTelegramChannel(token string, allowedIDs []int64, router ChatRouter, logger *slog.Logger, eventBus *bus.Bus) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		router:     router,
		logger:     logger,
		eventBus:   eventBus,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Start blocks until ctx is cancelled, polling Telegram for updates and
// reconnecting with exponential backoff on transient failures.
func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	go t.relayResponses(ctx)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr == nil {
			return nil
		}
		t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection — the library blocks rather than closing the channel on a dead
// connection).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(update.Message)
		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

// handleMessage parses an optional "@agent " prefix to pick the target
// role, then hands the rest of the line to that role's brain exactly as if
// it had arrived as in-game chat. A "!" prefix on the message body marks it
// priority-tier: the brain treats it like a paid message and forces a
// strategic replan.
func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	agent := "default"
	if strings.HasPrefix(content, "@") {
		parts := strings.SplitN(content, " ", 2)
		agent = strings.TrimPrefix(parts[0], "@")
		content = ""
		if len(parts) > 1 {
			content = strings.TrimSpace(parts[1])
		}
	}
	if content == "" {
		return
	}

	paid := false
	if strings.HasPrefix(content, "!") && !strings.HasPrefix(content, "!goal") {
		paid = true
		content = strings.TrimSpace(strings.TrimPrefix(content, "!"))
	}
	if content == "" {
		return
	}

	if err := t.router.QueueChat(agent, msg.From.UserName, content, paid); err != nil {
		t.logger.Warn("telegram route failed", "agent", agent, "error", err)
		t.reply(msg.Chat.ID, fmt.Sprintf("%s is not running", agent))
	}
}

// relayResponses forwards every agent's chat.responded event to every
// allowed Telegram chat.
func (t *TelegramChannel) relayResponses(ctx context.Context) {
	if t.eventBus == nil {
		return
	}
	sub := t.eventBus.Subscribe(bus.TopicChatResponded)
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Ch():
			payload, ok := ev.Payload.(bus.ChatReceivedEvent)
			if !ok || strings.TrimSpace(payload.Text) == "" {
				continue
			}
			text := fmt.Sprintf("[%s] %s", payload.Agent, payload.Text)
			for chatID := range t.allowedIDs {
				t.reply(chatID, text)
			}
		}
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}
