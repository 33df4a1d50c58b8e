package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink forwards admin notifications to a fixed set of Telegram chats.
// Per-game destinations are ignored; admins already get the same alert.
type TelegramSink struct {
	bot     botSender
	chatIDs []int64
}

func NewTelegramSink(botToken string, chatIDs []int64) (*TelegramSink, error) {
	if len(chatIDs) == 0 {
		return nil, errors.New("no telegram chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log.Infof("Telegram notifier initialized with %d chat IDs", len(chatIDs))
	return &TelegramSink{bot: bot, chatIDs: chatIDs}, nil
}

func (t *TelegramSink) Publish(ctx context.Context, destination string, payload any) error {
	if destination != AdminDestination {
		return nil
	}
	n, ok := payload.(AdminNotification)
	if !ok {
		return fmt.Errorf("telegram sink cannot render %T", payload)
	}

	text := formatTelegram(n)
	var errs []error
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("send telegram message to chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func formatTelegram(n AdminNotification) string {
	return fmt.Sprintf("*GAME ERROR*\n\n"+
		"*Game:* %s (#%d)\n"+
		"*Status:* %s\n"+
		"*Reporter:* %s (#%d)\n"+
		"*Time:* %s\n\n"+
		"%s",
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, n.GameName), n.GameId,
		n.GameStatus,
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, n.Reporter), n.ReporterId,
		n.Timestamp,
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, n.Message))
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, destination string, payload any) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, destination, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
