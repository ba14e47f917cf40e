package notify

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "medalbot/pkg/logx"
)

// Config selects the outbound channels. With no channel configured the
// notifier is a silent no-op and run summaries only go to the log.
type Config struct {
	ServerChanKey string
	Telegram      *TelegramConfig

	RatePerSec int // shared send limit across channels; 0 = 1/s
	RetryMax   int // per-message retries; 0 = 2
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Channel delivers one rendered message.
type Channel interface {
	Name() string
	Send(ctx context.Context, title, body string) error
}

// Notifier fans a run summary out to the configured channels, paced by a
// shared rate limiter, retrying each send a few times.
type Notifier struct {
	channels []Channel
	limiter  *rate.Limiter
	retryMax int
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log}

	if key := strings.TrimSpace(cfg.ServerChanKey); key != "" {
		n.channels = append(n.channels, newServerChan(key))
	}
	if cfg.Telegram != nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
		ch, err := newTelegram(*cfg.Telegram)
		if err != nil {
			return nil, err
		}
		n.channels = append(n.channels, ch)
	}

	per := cfg.RatePerSec
	if per <= 0 {
		per = 1
	}
	n.limiter = rate.NewLimiter(rate.Limit(per), 1)
	n.retryMax = cfg.RetryMax
	if n.retryMax <= 0 {
		n.retryMax = 2
	}
	return n, nil
}

func (n *Notifier) Enabled() bool { return n != nil && len(n.channels) > 0 }

// Send delivers the summary lines to every channel. Failures are logged,
// never fatal: a lost notification must not fail the run it reports on.
func (n *Notifier) Send(ctx context.Context, title string, lines []string) {
	if !n.Enabled() || len(lines) == 0 {
		return
	}
	body := strings.Join(lines, "\n")
	for _, ch := range n.channels {
		if err := n.sendOne(ctx, ch, title, body); err != nil {
			n.log.Warn("summary delivery failed",
				logx.String("channel", ch.Name()), logx.Err(err))
			continue
		}
		n.log.Info("summary delivered", logx.String("channel", ch.Name()))
	}
}

func (n *Notifier) sendOne(ctx context.Context, ch Channel, title, body string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	var last error
	for i := 0; i <= n.retryMax; i++ {
		err := ch.Send(ctx, title, body)
		if err == nil {
			return nil
		}
		last = err
		if i == n.retryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}
