package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"medalbot/internal/config"
	"medalbot/internal/ledger"
	"medalbot/internal/notify"
	"medalbot/internal/task"
	logx "medalbot/pkg/logx"
)

// App drives the whole bot: all configured accounts run concurrently as
// fully independent domains (own session, own ledger, own backoff state),
// then one shared summary push. With a recurrence schedule the cycle
// repeats at each matching instant; config edits picked up by the watcher
// apply at the next cycle, never mid-run.
type App struct {
	mgr  *config.Manager
	log  logx.Logger
	once bool
}

func New(mgr *config.Manager, log logx.Logger, once bool) *App {
	return &App{mgr: mgr, log: log, once: once}
}

func (a *App) Run(ctx context.Context) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := a.mgr.Watch(watchCtx); err != nil {
			a.log.Warn("config watch ended", logx.Err(err))
		}
	}()

	// The watcher publishes validated reloads; they are swapped in at the
	// run boundary below, never mid-run.
	sub := a.mgr.Subscribe(1)
	defer a.mgr.Unsubscribe(sub)

	cfg := a.mgr.Get()
	for {
		lines := a.runCycle(ctx, cfg)
		a.push(ctx, cfg, lines)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if a.once || strings.TrimSpace(cfg.Recurrence) == "" {
			a.log.Info("run finished")
			return nil
		}

		next, err := nextRun(cfg.Recurrence, ledger.Now())
		if err != nil {
			// Validate() should have caught this; treat as one-shot.
			a.log.Error("recurrence unparsable; stopping", logx.Err(err))
			return err
		}
		a.log.Info("run finished; sleeping until next scheduled run",
			logx.Time("next", next))
		if !sleepUntil(ctx, next) {
			return ctx.Err()
		}
		cfg = latestConfig(sub, cfg)
	}
}

// latestConfig drains the newest published reload, if any, keeping the
// current config otherwise.
func latestConfig(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case next, ok := <-sub:
			if !ok {
				return cur
			}
			if next != nil {
				cur = next
			}
		default:
			return cur
		}
	}
}

// runCycle executes every account once and returns the combined summary.
func (a *App) runCycle(ctx context.Context, cfg *config.Config) []string {
	var wg sync.WaitGroup
	journals := make([]*task.Journal, len(cfg.Accounts))
	for i, acct := range cfg.Accounts {
		journals[i] = &task.Journal{}
		wg.Add(1)
		go func(acct config.AccountConfig, j *task.Journal) {
			defer wg.Done()
			a.runAccount(ctx, cfg, acct, j)
		}(acct, journals[i])
	}
	wg.Wait()

	var lines []string
	for _, j := range journals {
		lines = append(lines, j.Lines()...)
	}
	return lines
}

func (a *App) push(ctx context.Context, cfg *config.Config, lines []string) {
	if cfg.Notify == nil || len(lines) == 0 {
		return
	}
	n, err := notify.New(notify.Config{
		ServerChanKey: cfg.Notify.ServerChanKey,
		Telegram:      telegramConfig(cfg.Notify.Telegram),
		RatePerSec:    cfg.Notify.RatePerSec,
		RetryMax:      cfg.Notify.RetryMax,
	}, a.log)
	if err != nil {
		a.log.Warn("notifier init failed", logx.Err(err))
		return
	}
	n.Send(ctx, "medalbot run report", lines)
}

func telegramConfig(tc *config.TelegramNotify) *notify.TelegramConfig {
	if tc == nil {
		return nil
	}
	return &notify.TelegramConfig{Token: tc.Token, ChatID: tc.ChatID}
}

func nextRun(spec string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
