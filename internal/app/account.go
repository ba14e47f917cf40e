package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"medalbot/internal/bili"
	"medalbot/internal/config"
	"medalbot/internal/ledger"
	"medalbot/internal/task"
	logx "medalbot/pkg/logx"
)

// faultDelay is the bounded pause before restarting an account pipeline
// after an unexpected fault.
const faultDelay = 60 * time.Second

// rolloverDelay gives the platform a moment after midnight before the
// rebuilt pipeline starts hammering it again.
const rolloverDelay = 5 * time.Second

// runAccount runs one account to completion. It restarts the whole
// pipeline (fresh session, fresh registry) on day rollover, and after a
// bounded delay on faults. Only an invalid credential ends the run early.
func (a *App) runAccount(ctx context.Context, cfg *config.Config, acct config.AccountConfig, journal *task.Journal) {
	log := a.log.With(logx.String("account", maskKey(acct.AccessKey)))

	for {
		if ctx.Err() != nil {
			return
		}
		outcome, name, err := a.runPipeline(ctx, cfg, acct, journal, log)
		switch {
		case err == nil && outcome == task.OutcomeRollover:
			log.Info("rebuilding for the new day")
			if !sleepUntilDelay(ctx, rolloverDelay) {
				return
			}
			continue
		case err == nil:
			if len(journal.Lines()) == 0 {
				journal.Add(fmt.Sprintf("%s: all tasks completed, no issues", name))
			}
			return
		case errors.Is(err, bili.ErrInvalidCredential):
			log.Error("login failed; access key expired or revoked")
			journal.Add("login failed: access key expired or revoked")
			return
		case ctx.Err() != nil:
			return
		default:
			log.Error("account pipeline faulted; restarting after delay",
				logx.Duration("delay", faultDelay), logx.Err(err))
			if !sleepUntilDelay(ctx, faultDelay) {
				return
			}
		}
	}
}

// runPipeline is one complete attempt: login, ledger, registry, orchestrate.
// The network session and the ledger handle live exactly as long as the
// attempt; rollover therefore rotates both.
func (a *App) runPipeline(ctx context.Context, cfg *config.Config, acct config.AccountConfig, journal *task.Journal, log logx.Logger) (task.Outcome, string, error) {
	cli, err := bili.New(bili.Config{AccessKey: acct.AccessKey, Proxy: cfg.Proxy})
	if err != nil {
		return 0, "", err
	}
	defer cli.Close()

	account, err := cli.LoginVerify(ctx)
	if err != nil {
		return 0, "", err
	}
	log = log.With(logx.String("name", account.Name), logx.Int64("uid", account.UID))
	log.Info("login ok")

	busyTimeout, err := config.ParseDurationField("ledger.busy_timeout", cfg.Ledger.BusyTimeout)
	if err != nil {
		return 0, account.Name, err
	}
	led, err := ledger.Open(ledger.Config{
		Driver:      cfg.Ledger.Driver,
		Path:        cfg.Ledger.Path,
		BusyTimeout: busyTimeout,
		Account:     strconv.FormatInt(account.UID, 10),
	}, log)
	if err != nil {
		return 0, account.Name, fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	taskCfg, err := taskConfig(cfg)
	if err != nil {
		return 0, account.Name, err
	}

	queues, err := task.BuildQueues(ctx, cli, led, taskCfg, acct.Allow, acct.Deny, log)
	if err != nil {
		return 0, account.Name, fmt.Errorf("build queues: %w", err)
	}
	if len(queues.Targets) == 0 {
		log.Info("no badges to process")
		journal.Add(fmt.Sprintf("%s: no badges to process", account.Name))
		return task.OutcomeCompleted, account.Name, nil
	}

	orch := task.NewOrchestrator(task.Params{
		Client:  cli,
		Ledger:  led,
		Queues:  queues,
		Burster: task.NewBurster(cli, account.UID, taskCfg, task.Timing{}, log),
		Config:  taskCfg,
		Journal: journal,
		Log:     log,
	})
	outcome, err := orch.Run(ctx)
	return outcome, account.Name, err
}

func taskConfig(cfg *config.Config) (task.Config, error) {
	engInterval, err := config.ParseDurationField("engagement.interval", cfg.Engagement.Interval)
	if err != nil {
		return task.Config{}, err
	}
	msgInterval, err := config.ParseDurationOrDefault("message.interval", cfg.Message.Interval, 3*time.Second)
	if err != nil {
		return task.Config{}, err
	}
	return task.Config{
		EngagementInterval: engInterval,
		MessageInterval:    msgInterval,
		MessageText:        cfg.Message.Text,
		ExcludedRoomIDs:    cfg.Message.ExcludedRoomIDs,
		TargetMinutes:      cfg.Presence.TargetMinutes,
		MaxAttempts:        cfg.Presence.MaxAttempts,
		ScaleFactor:        cfg.Presence.ScaleFactorOrDefault(),
		WearBadge:          cfg.WearBadge,
	}, nil
}

func maskKey(key string) string {
	if len(key) <= 6 {
		return "******"
	}
	return key[:6] + "…"
}

func sleepUntilDelay(ctx context.Context, d time.Duration) bool {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
