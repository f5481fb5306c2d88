// Package telegram talks to the Telegram Bot API: it delivers notifications
// and polls for the commands recipients use to register.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"listing_hunter/internal/domain"
)

const errTokenMissing = "telegram bot token not configured"

type Config struct {
	BotToken  string
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // messages per second, 0 disables throttling
}

// Client wraps the Bot API library. Send never returns a Go error: every
// failure is reported through domain.SendResult.
type Client struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	// Built directly instead of through NewBotAPI, which calls getMe and
	// fails when the token is missing or Telegram is unreachable at boot.
	bot := &tgbotapi.BotAPI{
		Token:  cfg.BotToken,
		Client: &http.Client{Timeout: cfg.Timeout},
		Buffer: 100,
	}
	endpoint := tgbotapi.APIEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/bot%s/%s"
	}
	bot.SetAPIEndpoint(endpoint)

	return &Client{
		bot:     bot,
		limiter: limiter,
		logger:  logger.With("component", "telegram"),
	}
}

// Configured reports whether a bot token is present.
func (c *Client) Configured() bool {
	return c.bot.Token != ""
}

// Send delivers one HTML-formatted message to a chat.
func (c *Client) Send(ctx context.Context, chatID, message string) domain.SendResult {
	if !c.Configured() {
		c.logger.Warn("send skipped", "chat_id", chatID, "reason", errTokenMissing)
		return domain.SendResult{Error: errTokenMissing}
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return domain.SendResult{Error: "invalid chat id: " + chatID}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.SendResult{Error: fmt.Sprintf("rate limiter: %v", err)}
	}

	msg := tgbotapi.NewMessage(id, message)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := c.bot.Request(msg); err != nil {
		reason := describeError(err)
		c.logger.Warn("message not delivered", "chat_id", chatID, "reason", reason)
		return domain.SendResult{Error: reason}
	}

	c.logger.Debug("message sent", "chat_id", chatID)
	return domain.SendResult{Success: true}
}

// describeError turns a library error into a recipient-facing reason.
func describeError(err error) string {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return describeFailure(apiErr.Code, apiErr.Message)
	}

	// url.Error carries the endpoint, which embeds the bot token.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "no response from Telegram API: " + urlErr.Err.Error()
	}
	return "telegram API error: " + err.Error()
}

func describeFailure(code int, description string) string {
	switch code {
	case http.StatusNotFound:
		return "chat not found or the recipient has not started the bot"
	case http.StatusUnauthorized:
		return "invalid bot token"
	case http.StatusBadRequest:
		if description != "" {
			return description
		}
		return "invalid request, check the chat id"
	}
	if description != "" {
		return description
	}
	return fmt.Sprintf("telegram API error: %d", code)
}

// BotInfo is the subset of getMe we care about.
type BotInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"first_name"`
}

// GetMe verifies the token and returns the bot identity.
func (c *Client) GetMe(ctx context.Context) (*BotInfo, error) {
	if !c.Configured() {
		return nil, errors.New(errTokenMissing)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	user, err := c.bot.GetMe()
	if err != nil {
		return nil, fmt.Errorf("getMe: %s", describeError(err))
	}
	return &BotInfo{ID: user.ID, Username: user.UserName, Name: user.FirstName}, nil
}

// GetUpdates polls for updates after offset. The library call is not
// context aware, so a zero timeout keeps shutdown prompt.
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error) {
	if !c.Configured() {
		return nil, errors.New(errTokenMissing)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(timeout.Seconds())

	updates, err := c.bot.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %s", describeError(err))
	}
	return updates, nil
}
