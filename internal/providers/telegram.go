package providers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
)

// ChatNotifier posts a short text to an operations chat.
type ChatNotifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier sends run summaries to a single Telegram chat.
type TelegramNotifier struct {
	chatID int64
	bot    *bot.Bot
}

// NewTelegramNotifier initializes the bot client. Extra options (for example
// bot.WithServerURL in tests) are passed through.
func NewTelegramNotifier(token string, chatID int64, opts ...bot.Option) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("missing Telegram bot token")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("missing Telegram chat id")
	}
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return &TelegramNotifier{chatID: chatID, bot: b}, nil
}

// Notify sends text as a plain message.
func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", t.chatID, err)
	}
	return nil
}
