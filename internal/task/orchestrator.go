package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"medalbot/internal/bili"
	"medalbot/internal/ledger"
	logx "medalbot/pkg/logx"
)

// Outcome reports why a run ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota // all queues drained
	OutcomeRollover                 // calendar day changed; caller rebuilds
)

// Params wires one run of the orchestrator.
type Params struct {
	Client  bili.Client
	Ledger  ledger.Store
	Queues  *Queues
	Burster *Burster
	Config  Config
	Timing  Timing
	Journal *Journal
	Log     logx.Logger

	// Now supplies the clock for rollover detection. Nil uses the
	// platform's accounting timezone.
	Now func() time.Time
}

// Orchestrator runs one account's three concurrent units: the
// engagement/message loop, the presence manager, and the day-rollover
// watcher. The two burst queues are owned by the burst loop goroutine and
// the presence queue by the manager goroutine, so no queue needs a lock.
type Orchestrator struct {
	cli     bili.Client
	led     ledger.Store
	queues  *Queues
	burst   *Burster
	cfg     Config
	timing  Timing
	journal *Journal
	log     logx.Logger
	now     func() time.Time

	tracker *Tracker

	errMu   sync.Mutex
	loopErr error
}

func NewOrchestrator(p Params) *Orchestrator {
	now := p.Now
	if now == nil {
		now = ledger.Now
	}
	return &Orchestrator{
		cli:     p.Client,
		led:     p.Ledger,
		queues:  p.Queues,
		burst:   p.Burster,
		cfg:     p.Config,
		timing:  p.Timing.withDefaults(),
		journal: p.Journal,
		log:     p.Log,
		now:     now,
		tracker: NewTracker(now),
	}
}

// Run blocks until the queues drain, the day rolls over, or ctx ends.
// A panic in a loop is caught, logged, and surfaced as the run error so
// the caller can restart after a bounded delay.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	stopCh := make(chan struct{})
	rollCh := make(chan struct{})

	var workWG sync.WaitGroup
	workWG.Add(2)
	go func() {
		defer workWG.Done()
		o.guard("burst loop", func() { o.burstLoop(ctx, stopCh) })
	}()
	go func() {
		defer workWG.Done()
		o.guard("presence manager", func() { o.presenceLoop(ctx, stopCh) })
	}()

	var watchWG sync.WaitGroup
	watchWG.Add(1)
	go func() {
		defer watchWG.Done()
		o.rolloverWatch(ctx, stopCh, rollCh)
	}()

	workDone := make(chan struct{})
	go func() {
		workWG.Wait()
		close(workDone)
	}()

	outcome := OutcomeCompleted
	select {
	case <-ctx.Done():
		close(stopCh)
		<-workDone
		watchWG.Wait()
		return outcome, ctx.Err()
	case <-rollCh:
		outcome = OutcomeRollover
		close(stopCh)
		<-workDone
	case <-workDone:
		close(stopCh)
	}
	watchWG.Wait()

	o.errMu.Lock()
	err := o.loopErr
	o.errMu.Unlock()
	return outcome, err
}

// guard converts a loop panic into a recorded error so one broken loop
// cannot take the process down.
func (o *Orchestrator) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("loop panicked",
				logx.String("loop", name), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			o.errMu.Lock()
			if o.loopErr == nil {
				o.loopErr = fmt.Errorf("%s panicked: %v", name, r)
			}
			o.errMu.Unlock()
		}
	}()
	fn()
}

// ---- engagement / message loop ----

func (o *Orchestrator) burstLoop(ctx context.Context, stop <-chan struct{}) {
	for {
		if stopped(stop) || ctx.Err() != nil {
			return
		}
		if o.queues.Engagement.Empty() && o.queues.Message.Empty() {
			return
		}
		o.burstPass(ctx, stop, Engagement)
		o.burstPass(ctx, stop, Message)
		if o.queues.Engagement.Empty() && o.queues.Message.Empty() {
			return
		}
		if !sleepStop(ctx, stop, o.timing.PassDelay) {
			return
		}
	}
}

func (o *Orchestrator) burstPass(ctx context.Context, stop <-chan struct{}, kind Kind) {
	queue := o.queues.Engagement
	if kind == Message {
		queue = o.queues.Message
	}
	for _, item := range queue.Items() {
		if stopped(stop) || ctx.Err() != nil {
			return
		}
		t := item.Target
		key := item.Key()
		if !o.tracker.ShouldAttempt(key) {
			continue
		}

		status, err := o.cli.LiveStatus(ctx, t.RoomID)
		if err != nil {
			delay := o.tracker.Failure(key)
			if o.tracker.ShouldLog(key) {
				o.log.Warn("live status query failed",
					logx.String("name", t.Name), logx.String("kind", kind.String()),
					logx.Int("failures", o.tracker.Failures(key)),
					logx.Duration("retry_in", delay), logx.Err(err))
			}
			continue
		}

		// Engagement needs a live room, messages an offline one.
		eligible := status == bili.StatusLive
		if kind == Message {
			eligible = status != bili.StatusLive
		}
		if !eligible {
			o.tracker.Ineligible(key)
			// Only guard targets come back for a retry once lit, so only
			// their skip is worth a line.
			if t.Privileged() && o.tracker.ShouldLog(key) {
				o.log.Info("room state not eligible; kept for retry",
					logx.String("name", t.Name), logx.String("kind", kind.String()),
					logx.String("status", status.String()))
			}
			continue
		}

		reps := BurstReps(kind, t.Privileged())
		var ok int
		if kind == Engagement {
			ok = o.burst.Engagement(ctx, t, reps)
		} else {
			ok = o.burst.Message(ctx, t, reps)
		}
		if ctx.Err() != nil {
			// Cut short by shutdown or rollover: leave the item queued so
			// the next run re-derives its state.
			return
		}
		if ok < reps && reps > 0 {
			o.journal.Add(fmt.Sprintf("%s: %s burst partial (%d/%d)", t.Name, kind, ok, reps))
		}

		o.complete(ctx, queue, kind, t)
		// Either burst maintains an unprivileged badge, so its twin is
		// done too.
		if !t.Privileged() {
			otherKind := Message
			if kind == Message {
				otherKind = Engagement
			}
			other := o.queues.Message
			if otherKind == Engagement {
				other = o.queues.Engagement
			}
			if other.Remove(t.ID) {
				o.markDone(ctx, otherKind, t)
				o.tracker.Success(Key{TargetID: t.ID, RoomID: t.RoomID, Kind: otherKind})
			}
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, queue *Queue, kind Kind, t Target) {
	queue.Remove(t.ID)
	o.markDone(ctx, kind, t)
	o.tracker.Success(Key{TargetID: t.ID, RoomID: t.RoomID, Kind: kind})
}

// markDone persists completion strictly after the remote action succeeded.
// A write failure is logged and reported but does not abort the run: the
// worst case is one duplicate burst on a same-day restart.
func (o *Orchestrator) markDone(ctx context.Context, kind Kind, t Target) {
	if err := o.led.MarkDone(ctx, kind.LedgerKind(), t.ID); err != nil {
		o.log.Error("ledger write failed",
			logx.String("name", t.Name), logx.String("kind", kind.String()), logx.Err(err))
		o.journal.Add(fmt.Sprintf("%s: ledger write failed for %s: %v", t.Name, kind, err))
	}
}

// ---- presence manager ----

func (o *Orchestrator) presenceLoop(ctx context.Context, stop <-chan struct{}) {
	queue := o.queues.Presence
	for {
		if stopped(stop) || ctx.Err() != nil {
			return
		}
		if queue.Empty() {
			return
		}

		item, found := o.nextWatchable(ctx, stop)
		if !found {
			if !sleepStop(ctx, stop, o.timing.ManagerIdle) {
				return
			}
			continue
		}
		t := item.Target
		key := item.Key()

		// Presence minutes only count toward a lit badge.
		if !o.ensureLit(ctx, t) {
			queue.MoveToTail(t.ID)
			o.tracker.Ineligible(key)
			continue
		}
		if o.cfg.WearBadge {
			if err := o.cli.WearMedal(ctx, t.MedalID); err != nil {
				o.log.Warn("badge wear failed", logx.String("name", t.Name), logx.Err(err))
			}
		}

		sess := &presenceSession{
			cli: o.cli, t: t, cfg: o.cfg, timing: o.timing, log: o.log,
		}
		switch res := sess.run(ctx); res {
		case PresenceCompleted:
			queue.Remove(t.ID)
			o.tracker.Success(key)
		case PresenceCapped:
			if o.tracker.ShouldLog(key) {
				o.log.Error("presence attempt cap reached; target requeued",
					logx.String("name", t.Name), logx.Int("max_attempts", o.cfg.MaxAttempts))
			}
			o.journal.Add(fmt.Sprintf("%s: presence capped at %d attempts", t.Name, o.cfg.MaxAttempts))
			queue.MoveToTail(t.ID)
			o.tracker.Ineligible(key)
		case PresenceFailed:
			queue.MoveToTail(t.ID)
			delay := o.tracker.Failure(key)
			if o.tracker.ShouldLog(key) {
				o.log.Warn("presence session failed; target requeued",
					logx.String("name", t.Name), logx.Duration("retry_in", delay))
			}
		}
	}
}

// nextWatchable returns the first presence item that is below its target
// minutes and not in a rotating room. Items already past the target are
// removed on the way.
func (o *Orchestrator) nextWatchable(ctx context.Context, stop <-chan struct{}) (Item, bool) {
	queue := o.queues.Presence
	for _, item := range queue.Items() {
		if stopped(stop) || ctx.Err() != nil {
			return Item{}, false
		}
		t := item.Target
		key := item.Key()
		if !o.tracker.ShouldAttempt(key) {
			continue
		}

		raw, err := o.cli.WatchProgress(ctx, t.ID)
		if err != nil {
			o.tracker.Failure(key)
			if o.tracker.ShouldLog(key) {
				o.log.Warn("watch progress query failed",
					logx.String("name", t.Name), logx.Err(err))
			}
			continue
		}
		if raw*o.cfg.scale() >= int64(o.cfg.TargetMinutes) {
			queue.Remove(t.ID)
			o.tracker.Success(key)
			continue
		}

		status, err := o.cli.LiveStatus(ctx, t.RoomID)
		if err != nil {
			o.tracker.Failure(key)
			continue
		}
		if status == bili.StatusRotating {
			// Carousel rooms accrue no watch time.
			o.tracker.Ineligible(key)
			continue
		}
		return item, true
	}
	return Item{}, false
}

// ensureLit checks the badge and, if dark, runs a single lighting action
// chosen by the room's live state. Lighting is not a daily burst: it does
// not touch the ledger or the burst queues.
func (o *Orchestrator) ensureLit(ctx context.Context, t Target) bool {
	lit, err := o.cli.BadgeLit(ctx, t.ID)
	if err != nil {
		o.log.Warn("badge state query failed", logx.String("name", t.Name), logx.Err(err))
		return false
	}
	if lit {
		return true
	}

	status, err := o.cli.LiveStatus(ctx, t.RoomID)
	if err != nil {
		return false
	}
	if status == bili.StatusLive {
		o.burst.Engagement(ctx, t, 1)
	} else {
		o.burst.Message(ctx, t, 1)
	}

	lit, err = o.cli.BadgeLit(ctx, t.ID)
	if err != nil || !lit {
		o.log.Info("badge lighting did not stick; target requeued", logx.String("name", t.Name))
		return false
	}
	return true
}

// ---- day rollover watcher ----

func (o *Orchestrator) rolloverWatch(ctx context.Context, stop <-chan struct{}, roll chan<- struct{}) {
	startDay := ledger.DayKey(o.now())
	for {
		if !sleepStop(ctx, stop, o.timing.RolloverPoll) {
			return
		}
		if day := ledger.DayKey(o.now()); day != startDay {
			o.log.Info("calendar day changed; restarting pipeline",
				logx.String("from", startDay), logx.String("to", day))
			close(roll)
			return
		}
	}
}

// ---- small helpers ----

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func sleepStop(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil && !stopped(stop)
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-tmr.C:
		return true
	}
}
