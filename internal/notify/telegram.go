package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts operator events to a single chat.
type Telegram struct {
	api    sender
	chatID int64
	log    *slog.Logger
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

func (t *Telegram) GenerationFailed(jobID, projectID, userID, reason string) {
	t.sendText(fmt.Sprintf("Generation failed\njob: %s\nproject: %s\nuser: %s\nreason: %s", jobID, projectID, userID, reason))
}

func (t *Telegram) PaymentSettled(userID, transactionID string, credits int) {
	t.sendText(fmt.Sprintf("Payment settled\nuser: %s\ntransaction: %s\ncredits: +%d", userID, transactionID, credits))
}

func (t *Telegram) sendText(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil && t.log != nil {
		t.log.Warn("telegram notify failed", "err", err)
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) GenerationFailed(string, string, string, string) {}
func (Nop) PaymentSettled(string, string, int)              {}
