package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notification describes an escrow release.
type Notification struct {
	Epoch       uint32
	Value       uint32
	Streak      uint32
	Requirement uint32
	Payout      uint64
	Asset       common.Address
	Recipient   common.Address
	At          time.Time
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramOptions configure Telegram delivery.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	// APIBase is the Bot API host, e.g. https://api.telegram.org.
	APIBase    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	opts   TelegramOptions
	chatID int64
	client *http.Client
	logger zerolog.Logger

	botMux sync.Mutex
	bot    *tgbotapi.BotAPI
}

// NewTelegramNotifier builds a notifier. The bot is contacted on first use.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(opts.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.APIBase == "" {
		opts.APIBase = "https://api.telegram.org"
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	return &TelegramNotifier{
		opts:   opts,
		chatID: chatID,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}, nil
}

func (n *TelegramNotifier) getBot() (*tgbotapi.BotAPI, error) {
	n.botMux.Lock()
	defer n.botMux.Unlock()

	if n.bot != nil {
		return n.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(n.opts.BotToken, n.opts.APIBase+"/bot%s/%s", n.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	n.bot = bot
	return bot, nil
}

// Notify sends the rendered message, retrying with a linear backoff.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	bot, err := n.getBot()
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, renderMessage(note))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < n.opts.MaxRetries; i++ {
		_, err := bot.Send(msg)
		if err == nil {
			n.logger.Info().Uint32("epoch", note.Epoch).
				Uint64("payout", note.Payout).
				Msg("payout alert sent (Telegram)")
			return nil
		}
		lastErr = err
		if i == n.opts.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.opts.RetryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed to send message after %d attempts: %w", n.opts.MaxRetries, lastErr)
}

func renderMessage(note Notification) string {
	var b strings.Builder
	b.WriteString("*Weather oracle payout*\n")
	fmt.Fprintf(&b, "Epoch: %d\n", note.Epoch)
	fmt.Fprintf(&b, "Value: %d\n", note.Value)
	fmt.Fprintf(&b, "Streak: %d / %d\n", note.Streak, note.Requirement)
	fmt.Fprintf(&b, "Paid: %d of %s\n", note.Payout, escapeMarkdownV2(note.Asset.Hex()))
	fmt.Fprintf(&b, "Recipient: `%s`\n", note.Recipient.Hex())
	if !note.At.IsZero() {
		fmt.Fprintf(&b, "At: %s UTC\n", escapeMarkdownV2(note.At.UTC().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// escapeMarkdownV2 escapes the characters Telegram reserves in MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Discard drops every notification.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, Notification) error { return nil }

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Discard{}
)
