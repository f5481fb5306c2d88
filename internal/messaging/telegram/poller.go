package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing_hunter/internal/domain"
)

// RecipientRegistry is the storage the poller needs to register recipients.
type RecipientRegistry interface {
	Get(ctx context.Context, id string) (*domain.Recipient, error)
	Upsert(ctx context.Context, recipient *domain.Recipient) error
}

type updateSource interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error)
	Send(ctx context.Context, chatID, message string) domain.SendResult
}

// Poller reads bot updates and handles the /start and /name commands.
type Poller struct {
	client       updateSource
	recipients   RecipientRegistry
	interval     time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger

	lastUpdateID int
}

func NewPoller(client updateSource, recipients RecipientRegistry, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		client:       client,
		recipients:   recipients,
		interval:     interval,
		errorBackoff: 5 * time.Second,
		logger:       logger.With("component", "telegram_poller"),
	}
}

// Start polls until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("telegram polling started", "interval", p.interval)

	for {
		wait := p.interval
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Error("polling failed", "error", err)
			wait = p.errorBackoff
		}

		select {
		case <-ctx.Done():
			p.logger.Info("telegram polling stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	p.logger.Info("telegram polling stopped")
	return ctx.Err()
}

// PollOnce fetches and handles one batch of updates.
func (p *Poller) PollOnce(ctx context.Context) error {
	var offset int
	if p.lastUpdateID > 0 {
		offset = p.lastUpdateID + 1
	}

	updates, err := p.client.GetUpdates(ctx, offset, 0)
	if err != nil {
		return fmt.Errorf("get updates: %w", err)
	}

	for _, update := range updates {
		if update.UpdateID > p.lastUpdateID {
			p.lastUpdateID = update.UpdateID
		}
		p.handle(ctx, update)
	}
	return nil
}

func (p *Poller) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil || update.Message.Text == "" {
		return
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	text := strings.TrimSpace(update.Message.Text)

	var reply string
	var err error
	switch {
	case text == "/start" || strings.HasPrefix(text, "/start "):
		reply, err = p.handleStart(ctx, chatID)
	case text == "/name" || strings.HasPrefix(text, "/name "):
		reply, err = p.handleName(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/name")))
	case strings.HasPrefix(text, "/"):
		reply = "Unknown command. Available commands:\n\n/start - start the conversation\n/name YourName - register or change your name"
	default:
		return
	}

	if err != nil {
		p.logger.Error("command failed", "chat_id", chatID, "command", text, "error", err)
		reply = "Something went wrong. Please try again."
	}

	if result := p.client.Send(ctx, chatID, reply); !result.Success {
		p.logger.Warn("reply not delivered", "chat_id", chatID, "reason", result.Error)
	}
}

func (p *Poller) handleStart(ctx context.Context, chatID string) (string, error) {
	recipient, err := p.recipients.Get(ctx, chatID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if recipient != nil {
		name := "there"
		if recipient.DisplayName != nil {
			name = *recipient.DisplayName
		}
		return fmt.Sprintf("Welcome back, %s!\n\nYou are already registered.\nYour chat ID: %s\n\nTo change your name send: /name YourName", name, chatID), nil
	}

	return fmt.Sprintf("Welcome!\n\nTo register and receive alerts about new listings send:\n\n/name YourName\n\nYour chat ID: %s", chatID), nil
}

func (p *Poller) handleName(ctx context.Context, chatID, name string) (string, error) {
	if name == "" {
		return "Please put your name after the /name command.\n\nExample: /name Amra", nil
	}

	existing, err := p.recipients.Get(ctx, chatID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if err := p.recipients.Upsert(ctx, &domain.Recipient{ID: chatID, DisplayName: &name}); err != nil {
		return "", fmt.Errorf("upsert recipient: %w", err)
	}

	if existing != nil {
		p.logger.Info("recipient renamed", "chat_id", chatID, "name", name)
		return fmt.Sprintf("Name updated.\n\nYour name: %s\nYour chat ID: %s", name, chatID), nil
	}

	p.logger.Info("recipient registered", "chat_id", chatID, "name", name)
	return fmt.Sprintf("You are registered!\n\nYour name: %s\nYour chat ID: %s\n\nYou will now receive alerts about new listings matching your filters.", name, chatID), nil
}
