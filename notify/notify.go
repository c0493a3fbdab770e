// Package notify delivers operator-facing alerts for opens, closes,
// unwinds, and fatal conditions. The engine depends only on the Notifier
// interface; TelegramNotifier is the reference implementation, in the
// style of web3guy0-polybot's bot/telegram.go.
package notify

import (
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/model"
)

// Notifier receives human-facing event notifications. Implementations must
// never block trading: failures are logged and dropped.
type Notifier interface {
	NotifyOpen(p *model.Position)
	NotifyClose(p *model.Position, pnlPct decimal.Decimal)
	NotifyUnwind(venueName string, qty decimal.Decimal)
	NotifyFatal(msg string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) NotifyOpen(*model.Position)                   {}
func (Nop) NotifyClose(*model.Position, decimal.Decimal) {}
func (Nop) NotifyUnwind(string, decimal.Decimal)         {}
func (Nop) NotifyFatal(string)                           {}

var _ Notifier = Nop{}

// TelegramNotifier pushes alerts to a Telegram chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier reads TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID from
// the environment. Returns an error if either is missing or the token is
// rejected.
func NewTelegramNotifier(logger zerolog.Logger) (*TelegramNotifier, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", chatIDStr, err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &TelegramNotifier{
		api:    api,
		chatID: chatID,
		log:    logger.With().Str("component", "notify").Logger(),
	}, nil
}

func (t *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		t.log.Warn().Err(err).Msg("telegram send failed")
	}
}

func (t *TelegramNotifier) NotifyOpen(p *model.Position) {
	t.send(fmt.Sprintf(
		"🟢 OPEN %s\nShort %s @ %s\nLong %s @ %s\nQty: %s\nSpread: %s%%",
		p.Symbol,
		p.ExchangeAName, p.FilledEntryPriceA.String(),
		p.ExchangeBName, p.FilledEntryPriceB.String(),
		p.Quantity.String(),
		p.OpenSpreadPct.StringFixed(4),
	))
}

func (t *TelegramNotifier) NotifyClose(p *model.Position, pnlPct decimal.Decimal) {
	t.send(fmt.Sprintf(
		"🔴 CLOSE %s\nBuy %s @ %s\nSell %s @ %s\nQty: %s\nPnL: %s%%\nHeld: %s",
		p.Symbol,
		p.ExchangeAName, p.FilledExitPriceA.String(),
		p.ExchangeBName, p.FilledExitPriceB.String(),
		p.Quantity.String(),
		pnlPct.StringFixed(4),
		p.HoldingDuration(p.CloseTime),
	))
}

func (t *TelegramNotifier) NotifyUnwind(venueName string, qty decimal.Decimal) {
	t.send(fmt.Sprintf("⚠️ EMERGENCY UNWIND on %s, qty %s: one leg could not be completed", venueName, qty.String()))
}

func (t *TelegramNotifier) NotifyFatal(msg string) {
	t.send("🚨 FATAL: " + msg + "\nManual intervention required, engine stopping.")
}
