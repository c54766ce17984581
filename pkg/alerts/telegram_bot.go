package alerts

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
)

const telegramChannelName = "telegram"

// Bot replies sent in response to chat commands.
const (
	replyWelcome      = "👋 <b>Welcome to Resource Sentinel!</b>\n\nOpen the connect link from your settings page to link this chat."
	replyInvalidLink  = "❌ Invalid or expired link. Please generate a new connection link."
	replyExpiredLink  = "❌ This link has expired. Please generate a new connection link."
	replyNotConnected = "📊 <b>Connection Status</b>\n\n❌ Not connected\n\nUse /start &lt;token&gt; from your connect link."
	replyDisconnected = "🔌 Disconnected."
	replyError        = "⚠️ Something went wrong. Try again."
)

// TelegramBot answers the chat commands used to link a recipient to a chat:
// /start <token>, /status and /disconnect.
type TelegramBot struct {
	prefs   *Preferences
	channel Channel
	logger  *slog.Logger
}

// NewTelegramBot creates a command handler replying through channel.
func NewTelegramBot(prefs *Preferences, channel Channel, logger *slog.Logger) *TelegramBot {
	return &TelegramBot{prefs: prefs, channel: channel, logger: logger}
}

// HandleUpdate processes one webhook update. Problems are reported to the
// chat; the returned error is only for a failed reply.
func (b *TelegramBot) HandleUpdate(ctx context.Context, update TelegramUpdate) error {
	if update.Message == nil {
		return nil
	}
	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	command, arg := ParseCommand(update.Message.Text)

	var reply string
	switch command {
	case "start":
		reply = b.start(ctx, chatID, arg, update.Message.From)
	case "status":
		reply = b.status(ctx, chatID)
	case "disconnect":
		reply = b.disconnect(ctx, chatID)
	default:
		return nil
	}
	return b.channel.Deliver(ctx, chatID, reply)
}

func (b *TelegramBot) start(ctx context.Context, chatID, token string, from *TelegramUser) string {
	if token == "" {
		if pref, err := b.prefs.ByAddress(ctx, telegramChannelName, chatID); err == nil {
			return fmt.Sprintf("✅ You are already connected as <b>%s</b>.", html.EscapeString(pref.RecipientID))
		}
		return replyWelcome
	}

	pref, err := b.prefs.Bond(ctx, token, chatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return replyInvalidLink
	case errors.Is(err, ErrLinkExpired):
		return replyExpiredLink
	case err != nil:
		b.logger.Error("bond telegram chat", "chat_id", chatID, "error", err)
		return replyError
	}

	username := "unknown"
	if from != nil && from.Username != "" {
		username = from.Username
	}
	return fmt.Sprintf("✅ <b>Successfully Connected!</b>\n\nYour Telegram account (@%s) is now linked to <b>%s</b>.\n\nYou will receive notifications based on your preferences.",
		html.EscapeString(username), html.EscapeString(pref.RecipientID))
}

func (b *TelegramBot) status(ctx context.Context, chatID string) string {
	pref, err := b.prefs.ByAddress(ctx, telegramChannelName, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return replyNotConnected
	}
	if err != nil {
		b.logger.Error("telegram status", "chat_id", chatID, "error", err)
		return replyError
	}
	return fmt.Sprintf("📊 <b>Connection Status</b>\n\n✅ Connected\n👤 User: %s\n🔔 Notifications: %s",
		html.EscapeString(pref.RecipientID), filterLabel(pref.EffectiveFilter()))
}

func (b *TelegramBot) disconnect(ctx context.Context, chatID string) string {
	_, err := b.prefs.Disconnect(ctx, telegramChannelName, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return "Not connected."
	}
	if err != nil {
		b.logger.Error("telegram disconnect", "chat_id", chatID, "error", err)
		return replyError
	}
	return replyDisconnected
}

func filterLabel(f model.TierFilter) string {
	return strings.ReplaceAll(string(f), "_", " ")
}
