package ledger

import (
	"context"
	"errors"
	"time"
)

// Kind names a daily task whose completion is recorded.
//
// Presence has no ledger kind: its eligibility is re-derived each run from
// the platform-tracked watched-minutes value, which only grows within a day.
type Kind string

const (
	KindEngagement Kind = "engagement"
	KindMessage    Kind = "message"
)

var ErrClosed = errors.New("ledger closed")

// Store is the per-account, per-day completion record.
//
// A target id present under a Kind for today is never re-enqueued for that
// Kind during the same calendar day, even across process restarts. Entries
// for other dates are purged at the start of every run.
type Store interface {
	IsDone(ctx context.Context, kind Kind, targetID int64) (bool, error)
	MarkDone(ctx context.Context, kind Kind, targetID int64) error

	// DoneSet returns today's completed target ids for one kind.
	DoneSet(ctx context.Context, kind Kind) (map[int64]struct{}, error)

	// PurgeOld drops every entry whose day is not today.
	PurgeOld(ctx context.Context) error

	Close() error
}

// Config configures a ledger store.
//
// Driver values:
//   - "file" (default): one JSON file per account under Path
//   - "sqlite": shared database file at Path (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Account keys this store's rows. Each account owns its own ledger
	// record; stores for different accounts never share mutable state.
	Account string

	// Now supplies the clock for day keys. Nil uses Beijing time, the
	// platform's accounting day.
	Now func() time.Time
}
