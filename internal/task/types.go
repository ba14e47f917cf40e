package task

import (
	"sync"
	"time"

	"medalbot/internal/bili"
	"medalbot/internal/ledger"
)

// Kind is one of the three daily task families.
type Kind int

const (
	Engagement Kind = iota // "like" bursts against a live room
	Message                // chat-message bursts against an offline room
	Presence               // accumulating watched minutes via heartbeats
)

func (k Kind) String() string {
	switch k {
	case Engagement:
		return "engagement"
	case Message:
		return "message"
	case Presence:
		return "presence"
	default:
		return "unknown"
	}
}

// LedgerKind maps a burst kind to its ledger record. Presence has no
// ledger entry; its progress is platform-tracked.
func (k Kind) LedgerKind() ledger.Kind {
	switch k {
	case Engagement:
		return ledger.KindEngagement
	case Message:
		return ledger.KindMessage
	default:
		return ""
	}
}

// Target is one tracked badge owner, fixed for the duration of a run.
// Lit and live state are re-queried as needed; everything else is read-only.
type Target struct {
	ID         int64
	Name       string
	RoomID     int64
	MedalID    int64
	GuardLevel int
	Lit        bool
}

// Privileged reports elevated (guard) membership, which reduces the daily
// action counts and makes ineligibility worth retry logging.
func (t Target) Privileged() bool { return t.GuardLevel > 0 }

func targetFromMedal(m bili.Medal) (Target, bool) {
	if m.TargetID == 0 || m.RoomID == 0 {
		return Target{}, false
	}
	return Target{
		ID:         m.TargetID,
		Name:       m.TargetName,
		RoomID:     m.RoomID,
		MedalID:    m.MedalID,
		GuardLevel: m.GuardLevel,
		Lit:        m.IsLit,
	}, true
}

// Item is a (Target, Kind) pair. Queue membership is the sole indicator of
// "not yet done today"; items are removed, never mutated.
type Item struct {
	Target Target
	Kind   Kind
}

func (i Item) Key() Key {
	return Key{TargetID: i.Target.ID, RoomID: i.Target.RoomID, Kind: i.Kind}
}

// Queue is an ordered list of work items owned by exactly one loop
// goroutine; it is not safe for concurrent use.
type Queue struct {
	items []Item
}

func (q *Queue) Push(it Item)  { q.items = append(q.items, it) }
func (q *Queue) Len() int      { return len(q.items) }
func (q *Queue) Empty() bool   { return len(q.items) == 0 }

// Items returns a snapshot, so a pass may remove entries mid-iteration.
func (q *Queue) Items() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Remove(targetID int64) bool {
	for i, it := range q.items {
		if it.Target.ID == targetID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// MoveToTail requeues a target's item behind all others, keeping it for a
// later pass.
func (q *Queue) MoveToTail(targetID int64) bool {
	for i, it := range q.items {
		if it.Target.ID == targetID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.items = append(q.items, it)
			return true
		}
	}
	return false
}

// IDs lists target ids in queue order.
func (q *Queue) IDs() []int64 {
	out := make([]int64, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.Target.ID)
	}
	return out
}

// Queues is one run's worth of work for a single account.
type Queues struct {
	Engagement *Queue
	Message    *Queue
	Presence   *Queue

	// Targets is the ordered tracked set the queues were built from.
	Targets []Target
}

// Journal accumulates human-readable summary lines across the run's
// goroutines for outbound delivery.
type Journal struct {
	mu    sync.Mutex
	lines []string
}

func (j *Journal) Add(line string) {
	if j == nil || line == "" {
		return
	}
	j.mu.Lock()
	j.lines = append(j.lines, line)
	j.mu.Unlock()
}

func (j *Journal) Lines() []string {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.lines))
	copy(out, j.lines)
	return out
}

// Config carries the task-level knobs, resolved from configuration.
type Config struct {
	// EngagementInterval / MessageInterval pace successful actions within
	// a burst (the platform's rate-limit-sensitive delay).
	EngagementInterval time.Duration
	MessageInterval    time.Duration

	// MessageText is the first message of each burst; empty lets the
	// remote client pick a stock text.
	MessageText string

	// ExcludedRoomIDs are rooms where message bursts are a no-op.
	ExcludedRoomIDs []int64

	// TargetMinutes is the daily watched-minutes floor; MaxAttempts caps
	// heartbeats per presence session; ScaleFactor converts raw progress
	// units to minutes.
	TargetMinutes int
	MaxAttempts   int
	ScaleFactor   int

	// WearBadge wears the target's badge before heartbeating.
	WearBadge bool
}

func (c Config) scale() int64 {
	if c.ScaleFactor > 0 {
		return int64(c.ScaleFactor)
	}
	return 5
}

func (c Config) excluded(roomID int64) bool {
	for _, id := range c.ExcludedRoomIDs {
		if id == roomID {
			return true
		}
	}
	return false
}

// Timing groups the cadence knobs. Tests shrink these; production uses the
// defaults.
type Timing struct {
	PassDelay     time.Duration // pause between engagement/message passes
	ManagerIdle   time.Duration // presence manager pause when nothing is watchable
	HeartbeatGap  time.Duration // pause between presence heartbeats
	RolloverPoll  time.Duration // wall-clock date poll interval
	RetryGapEng   time.Duration // pause between retries of one engagement unit
	RetryGapMsg   time.Duration // pause between retries of one message unit
}

func (t Timing) withDefaults() Timing {
	if t.PassDelay <= 0 {
		t.PassDelay = 5 * time.Second
	}
	if t.ManagerIdle <= 0 {
		t.ManagerIdle = 10 * time.Second
	}
	if t.HeartbeatGap <= 0 {
		t.HeartbeatGap = 60 * time.Second
	}
	if t.RolloverPoll <= 0 {
		t.RolloverPoll = 5 * time.Second
	}
	if t.RetryGapEng <= 0 {
		t.RetryGapEng = 1 * time.Second
	}
	if t.RetryGapMsg <= 0 {
		t.RetryGapMsg = 5 * time.Second
	}
	return t
}

// Burst repeat counts. Guard members earn boosted affinity per action, so
// their daily quota is smaller.
const (
	engagementRepsGuard   = 10
	engagementRepsRegular = 38
	messageRepsGuard      = 5
	messageRepsRegular    = 10
)

// BurstReps returns the repeat count for a burst kind and tier.
func BurstReps(kind Kind, privileged bool) int {
	switch kind {
	case Engagement:
		if privileged {
			return engagementRepsGuard
		}
		return engagementRepsRegular
	case Message:
		if privileged {
			return messageRepsGuard
		}
		return messageRepsRegular
	default:
		return 0
	}
}
