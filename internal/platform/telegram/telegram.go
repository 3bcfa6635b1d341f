// Package telegram adapts the Telegram Bot API to the narrow platform
// surface the gateway consumes: a long-poll update fetch and a chunked,
// retried text send with an optional persistent command keyboard.
package telegram

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Update is one inbound chat message, reduced to what the gateway needs.
type Update struct {
	UpdateID int
	ChatID   string
	Text     string
}

// Client wraps a bot connection. The send path is injected so tests can
// exercise retry and chunking without the network.
type Client struct {
	bot *tgbotapi.BotAPI

	MaxTextChars int
	HTTPTimeout  time.Duration
	Retries      int
	RetryDelay   time.Duration

	send  func(tgbotapi.Chattable) error
	sleep func(time.Duration)
}

// New connects to the Bot API with the given token. httpTimeout bounds
// every API call, including the long-poll getUpdates request's
// transport (the poll timeout itself is passed per-fetch).
func New(token string, maxTextChars int, httpTimeout time.Duration, retries int, retryDelay time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Client = &http.Client{Timeout: httpTimeout}
	c := newClient(maxTextChars, httpTimeout, retries, retryDelay)
	c.bot = bot
	c.send = func(msg tgbotapi.Chattable) error {
		_, err := bot.Send(msg)
		return err
	}
	return c, nil
}

func newClient(maxTextChars int, httpTimeout time.Duration, retries int, retryDelay time.Duration) *Client {
	if maxTextChars <= 0 {
		maxTextChars = DefaultMaxTextChars
	}
	if retries < 0 {
		retries = 0
	}
	if retries > 8 {
		retries = 8
	}
	if retryDelay <= 0 {
		retryDelay = 300 * time.Millisecond
	}
	return &Client{
		MaxTextChars: maxTextChars,
		HTTPTimeout:  httpTimeout,
		Retries:      retries,
		RetryDelay:   retryDelay,
		sleep:        time.Sleep,
	}
}

// Fetch long-polls getUpdates from offset for up to pollTimeout. Only
// message updates are requested; non-message or empty updates still
// advance the offset at the caller.
func (c *Client) Fetch(offset int, pollTimeout time.Duration) ([]Update, error) {
	cfg := tgbotapi.UpdateConfig{
		Offset:         offset,
		Timeout:        int(pollTimeout.Seconds()),
		AllowedUpdates: []string{"message"},
	}
	raw, err := c.bot.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}
	out := make([]Update, 0, len(raw))
	for _, u := range raw {
		item := Update{UpdateID: u.UpdateID}
		if u.Message != nil && u.Message.Chat != nil {
			item.ChatID = strconv.FormatInt(u.Message.Chat.ID, 10)
			item.Text = u.Message.Text
		}
		out = append(out, item)
	}
	return out, nil
}

// Send chunks text at MaxTextChars and sends each chunk, retrying the
// whole message with exponential backoff on failure. The first chunk of
// every attempt carries the persistent command keyboard when
// withMenu is set. Returns false after retries are exhausted; the
// caller logs and continues.
func (c *Client) Send(chatID, text string, withMenu bool) bool {
	numericID, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return false
	}
	attempt := 0
	for {
		attempt++
		if err := c.sendOnce(numericID, text, withMenu); err == nil {
			return true
		}
		if attempt > c.Retries {
			return false
		}
		delay := c.RetryDelay << (attempt - 1)
		if delay > 8*time.Second {
			delay = 8 * time.Second
		}
		c.sleep(delay)
	}
}

func (c *Client) sendOnce(chatID int64, text string, withMenu bool) error {
	for i, chunk := range SplitText(text, c.MaxTextChars) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if i == 0 && withMenu {
			msg.ReplyMarkup = QuickReplyKeyboard()
		}
		if err := c.send(msg); err != nil {
			return fmt.Errorf("telegram sendMessage chunk %d: %w", i+1, err)
		}
	}
	return nil
}

// QuickReplyKeyboard is the persistent reply keyboard listing the core
// commands, attached to the first chunk of menu-bearing replies.
func QuickReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/check"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/task"),
			tgbotapi.NewKeyboardButton("/monitor"),
			tgbotapi.NewKeyboardButton("/pick"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/kpi"),
			tgbotapi.NewKeyboardButton("/cancel"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/dispatch"),
			tgbotapi.NewKeyboardButton("/direct"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/help"),
			tgbotapi.NewKeyboardButton("/whoami"),
			tgbotapi.NewKeyboardButton("/acl"),
			tgbotapi.NewKeyboardButton("/mode"),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	kb.InputFieldPlaceholder = "예: /dispatch 결측치 규칙 정리해줘"
	return kb
}
