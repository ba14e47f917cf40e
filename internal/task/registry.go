package task

import (
	"context"
	"fmt"

	"medalbot/internal/bili"
	"medalbot/internal/ledger"
	logx "medalbot/pkg/logx"
)

// BuildQueues turns the account's badge list into the three work queues.
//
// Ordering: a non-empty allow list imposes a total order (ids absent from
// the badge list are reported and skipped); otherwise the platform's
// natural order applies, minus the deny list. Queue order governs visit
// order within a pass, not priority.
func BuildQueues(ctx context.Context, cli bili.Client, led ledger.Store, cfg Config, allow, deny []int64, log logx.Logger) (*Queues, error) {
	medals, err := cli.Medals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}

	byTarget := make(map[int64]Target, len(medals))
	var order []int64
	for _, m := range medals {
		t, ok := targetFromMedal(m)
		if !ok {
			log.Warn("badge entry malformed; skipped",
				logx.Int64("target_id", m.TargetID), logx.Int64("room_id", m.RoomID))
			continue
		}
		if _, dup := byTarget[t.ID]; dup {
			continue
		}
		byTarget[t.ID] = t
		order = append(order, t.ID)
	}

	var targets []Target
	if len(allow) > 0 {
		for _, id := range allow {
			t, ok := byTarget[id]
			if !ok {
				log.Error("allow-listed badge not owned; skipped", logx.Int64("target_id", id))
				continue
			}
			targets = append(targets, t)
		}
	} else {
		denied := make(map[int64]struct{}, len(deny))
		for _, id := range deny {
			denied[id] = struct{}{}
		}
		for _, id := range order {
			if _, skip := denied[id]; skip {
				log.Debug("badge deny-listed; skipped", logx.Int64("target_id", id))
				continue
			}
			targets = append(targets, byTarget[id])
		}
	}

	doneEng, err := led.DoneSet(ctx, ledger.KindEngagement)
	if err != nil {
		return nil, fmt.Errorf("ledger read: %w", err)
	}
	doneMsg, err := led.DoneSet(ctx, ledger.KindMessage)
	if err != nil {
		return nil, fmt.Errorf("ledger read: %w", err)
	}

	q := &Queues{
		Engagement: &Queue{},
		Message:    &Queue{},
		Presence:   &Queue{},
		Targets:    targets,
	}

	for _, t := range targets {
		// An unlit badge always needs action, whatever the ledger says.
		// A lit one only needs the daily guard quota.
		if includeBurst(t, doneEng) {
			q.Engagement.Push(Item{Target: t, Kind: Engagement})
		}
		if includeBurst(t, doneMsg) {
			q.Message.Push(Item{Target: t, Kind: Message})
		}

		watched, err := cli.WatchProgress(ctx, t.ID)
		if err != nil {
			// One target's failure must not empty the queue for the rest.
			log.Warn("watch progress query failed; presence skipped this run",
				logx.Int64("target_id", t.ID), logx.String("name", t.Name), logx.Err(err))
			continue
		}
		if watched*cfg.scale() < int64(cfg.TargetMinutes) {
			q.Presence.Push(Item{Target: t, Kind: Presence})
		}
	}

	log.Info("task queues built",
		logx.Int("targets", len(targets)),
		logx.Int("engagement", q.Engagement.Len()),
		logx.Int("message", q.Message.Len()),
		logx.Int("presence", q.Presence.Len()))
	return q, nil
}

func includeBurst(t Target, done map[int64]struct{}) bool {
	if !t.Lit {
		return true
	}
	if !t.Privileged() {
		return false
	}
	_, isDone := done[t.ID]
	return !isDone
}
