package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramChannel sends notifications through a Telegram bot. Addresses are chat IDs.
type TelegramChannel struct {
	token   string
	apiURL  string
	botName string
	client  *http.Client
}

// NewTelegramChannel creates a Telegram bot channel. An empty apiURL uses
// the public Bot API.
func NewTelegramChannel(token, apiURL, botName string) *TelegramChannel {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &TelegramChannel{
		token:   token,
		apiURL:  strings.TrimRight(apiURL, "/"),
		botName: strings.TrimPrefix(botName, "@"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramChannel) Name() string { return telegramChannelName }

func (t *TelegramChannel) Deliver(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(telegramSendMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	var result telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !result.OK {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, result.Description)
	}
	return nil
}

// DeepLink returns the bot link that starts a chat carrying token.
func (t *TelegramChannel) DeepLink(token string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", t.botName, token)
}

// BotName returns the configured bot username without the leading @.
func (t *TelegramChannel) BotName() string { return t.botName }

type telegramSendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// TelegramUpdate is the subset of a Bot API update the webhook handles.
type TelegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is an inbound chat message.
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      TelegramChat  `json:"chat"`
	From      *TelegramUser `json:"from,omitempty"`
	Text      string        `json:"text"`
}

// TelegramChat identifies the chat a message came from.
type TelegramChat struct {
	ID int64 `json:"id"`
}

// TelegramUser is the sender of a message.
type TelegramUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// ParseCommand splits "/start abc" into ("start", "abc"). A bot suffix such
// as "/start@sentinel_bot" is dropped. Text that is not a command returns "".
func ParseCommand(text string) (command, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}
