package notify

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegram sends summaries to a fixed chat. Send-only: the bot never
// polls for updates.
type telegram struct {
	bot    *tele.Bot
	chatID int64
}

func newTelegram(cfg TelegramConfig) (*telegram, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: false,
	})
	if err != nil {
		return nil, err
	}
	return &telegram{bot: b, chatID: cfg.ChatID}, nil
}

func (t *telegram) Name() string { return "telegram" }

func (t *telegram) Send(ctx context.Context, title, body string) error {
	// telebot has no context-aware send; bound the call ourselves.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tele.ChatID(t.chatID), title+"\n"+body)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		return context.DeadlineExceeded
	}
}
