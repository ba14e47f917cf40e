package task

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"medalbot/internal/bili"
	logx "medalbot/pkg/logx"
)

// unitRetries is how often one action within a burst is retried before the
// unit is abandoned and the burst moves on.
const unitRetries = 3

// Burster executes engagement/message bursts for one account. Successful
// actions are paced by a per-kind rate limiter so bursts for different
// targets share the account's inter-action delay.
type Burster struct {
	cli bili.Client
	uid int64
	cfg Config
	log logx.Logger

	engLimiter *rate.Limiter
	msgLimiter *rate.Limiter

	timing Timing
}

func NewBurster(cli bili.Client, uid int64, cfg Config, timing Timing, log logx.Logger) *Burster {
	return &Burster{
		cli:        cli,
		uid:        uid,
		cfg:        cfg,
		log:        log,
		engLimiter: newLimiter(cfg.EngagementInterval),
		msgLimiter: newLimiter(cfg.MessageInterval),
		timing:     timing.withDefaults(),
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Engagement runs `reps` like actions against the target's room and
// returns the success count. It never fails past its own boundary: every
// unit is attempted (with retries) unless ctx ends the run.
func (b *Burster) Engagement(ctx context.Context, t Target, reps int) int {
	ok := 0
	for i := 0; i < reps; i++ {
		if ctx.Err() != nil {
			break
		}
		if b.runUnit(ctx, b.engLimiter, b.timing.RetryGapEng, t, i, reps, "like", func() error {
			return b.cli.Like(ctx, t.RoomID, t.ID, b.uid)
		}) {
			ok++
		}
	}
	b.log.Info("engagement burst finished",
		logx.String("name", t.Name), logx.Int("ok", ok), logx.Int("total", reps))
	return ok
}

// Message runs `reps` chat messages against the target's room. Rooms on
// the exclusion list reject all chat; the burst is a no-op there.
func (b *Burster) Message(ctx context.Context, t Target, reps int) int {
	if b.cfg.excluded(t.RoomID) {
		b.log.Debug("room excluded from message bursts",
			logx.String("name", t.Name), logx.Int64("room_id", t.RoomID))
		return 0
	}
	ok := 0
	for i := 0; i < reps; i++ {
		if ctx.Err() != nil {
			break
		}
		text := ""
		if i == 0 {
			text = b.cfg.MessageText
		}
		if b.runUnit(ctx, b.msgLimiter, b.timing.RetryGapMsg, t, i, reps, "message", func() error {
			return b.cli.SendMessage(ctx, t.RoomID, text)
		}) {
			ok++
		}
	}
	b.log.Info("message burst finished",
		logx.String("name", t.Name), logx.Int("ok", ok), logx.Int("total", reps))
	return ok
}

// runUnit attempts one action up to unitRetries times. On success it waits
// out the inter-action delay; on exhaustion it gives the unit up so the
// burst can continue.
func (b *Burster) runUnit(ctx context.Context, lim *rate.Limiter, retryGap time.Duration, t Target, i, reps int, what string, action func() error) bool {
	for fail := 0; fail < unitRetries; {
		err := action()
		if err == nil {
			if err := lim.Wait(ctx); err != nil {
				return true // action landed; only the pacing wait was cut short
			}
			return true
		}
		fail++
		if fail >= unitRetries {
			b.log.Error("unit abandoned after retries",
				logx.String("name", t.Name), logx.String("kind", what),
				logx.Int("unit", i+1), logx.Int("total", reps), logx.Err(err))
			return false
		}
		b.log.Warn("unit failed; retrying",
			logx.String("name", t.Name), logx.String("kind", what),
			logx.Int("unit", i+1), logx.Int("total", reps),
			logx.Int("attempt", fail+1), logx.Err(err))
		if !sleepCtx(ctx, retryGap) {
			return false
		}
	}
	return false
}

// sleepCtx pauses for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
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
