package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "medalbot/pkg/logx"
)

func openAt(t *testing.T, dir, account string, day time.Time) Store {
	t.Helper()
	s, err := Open(Config{
		Driver:  "file",
		Path:    dir,
		Account: account,
		Now:     func() time.Time { return day },
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	day := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	s := openAt(t, dir, "99", day)
	if done, err := s.IsDone(ctx, KindEngagement, 1); err != nil || done {
		t.Fatalf("fresh store: done=%v err=%v", done, err)
	}
	if err := s.MarkDone(ctx, KindEngagement, 1); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if err := s.MarkDone(ctx, KindEngagement, 1); err != nil {
		t.Fatalf("duplicate mark done: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Same day, fresh process: the record survives.
	s = openAt(t, dir, "99", day.Add(2*time.Hour))
	defer s.Close()
	if done, err := s.IsDone(ctx, KindEngagement, 1); err != nil || !done {
		t.Fatalf("after reopen: done=%v err=%v, want recorded", done, err)
	}
	if done, err := s.IsDone(ctx, KindMessage, 1); err != nil || done {
		t.Fatalf("other kind: done=%v err=%v, want absent", done, err)
	}

	set, err := s.DoneSet(ctx, KindEngagement)
	if err != nil {
		t.Fatalf("done set: %v", err)
	}
	if _, ok := set[1]; !ok || len(set) != 1 {
		t.Fatalf("done set = %v, want {1}", set)
	}
}

func TestFileStorePurgesOtherDaysOnOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	day1 := time.Date(2026, 8, 27, 23, 0, 0, 0, time.UTC)

	s := openAt(t, dir, "99", day1)
	if err := s.MarkDone(ctx, KindMessage, 7); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	s.Close()

	// Next calendar day: yesterday's completions are gone.
	s = openAt(t, dir, "99", day1.Add(24*time.Hour))
	defer s.Close()
	if done, err := s.IsDone(ctx, KindMessage, 7); err != nil || done {
		t.Fatalf("done=%v err=%v, want purged after rollover", done, err)
	}
}

func TestFileStoreAccountsIsolated(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	day := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	a := openAt(t, dir, "alice", day)
	defer a.Close()
	b := openAt(t, dir, "bob", day)
	defer b.Close()

	if err := a.MarkDone(ctx, KindEngagement, 1); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if done, err := b.IsDone(ctx, KindEngagement, 1); err != nil || done {
		t.Fatalf("done=%v err=%v, want accounts isolated", done, err)
	}
}

func TestFileStoreCorruptFileStartsFresh(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "99.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	day := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	s := openAt(t, dir, "99", day)
	defer s.Close()
	if done, err := s.IsDone(context.Background(), KindEngagement, 1); err != nil || done {
		t.Fatalf("done=%v err=%v, want a fresh empty ledger", done, err)
	}
	if err := s.MarkDone(context.Background(), KindEngagement, 1); err != nil {
		t.Fatalf("mark done after recovery: %v", err)
	}
}

func TestFileStoreClosedErrors(t *testing.T) {
	t.Parallel()
	day := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s := openAt(t, t.TempDir(), "99", day)
	s.Close()
	if err := s.MarkDone(context.Background(), KindEngagement, 1); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestDayKeyUsesPlatformZone(t *testing.T) {
	t.Parallel()
	// 2026-08-28 17:30 UTC is already 01:30 on the 29th in Beijing.
	utc := time.Date(2026, 8, 28, 17, 30, 0, 0, time.UTC)
	if got := DayKey(utc); got != "2026-08-29" {
		t.Fatalf("DayKey = %q, want the platform's accounting day 2026-08-29", got)
	}
}
