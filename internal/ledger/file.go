package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	logx "medalbot/pkg/logx"
)

// fileStore keeps one JSON file per account:
//
//	<path>/<account>.json  =>  {"2026-08-28": {"engagement": [123, 456], ...}}
//
// Writes are synchronous: MarkDone persists before returning so a crash
// right after a remote action costs at most one duplicate action on the
// next run, never a silently skipped completion.
type fileStore struct {
	log  logx.Logger
	path string

	nowFn func() string // day key supplier

	mu   sync.Mutex
	days map[string]map[Kind][]int64
	open bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := cfg.Path
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, cfg.Account+".json")

	s := &fileStore{
		log:   log,
		path:  path,
		nowFn: func() string { return DayKey(cfg.Now()) },
		days:  map[string]map[Kind][]int64{},
		open:  true,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.PurgeOld(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &s.days); err != nil {
		// A corrupt ledger only risks duplicate actions for one day;
		// start fresh rather than refusing to run.
		s.log.Warn("ledger file unreadable; starting fresh", logx.String("path", s.path), logx.Err(err))
		s.days = map[string]map[Kind][]int64{}
	}
	return nil
}

func (s *fileStore) saveLocked() error {
	b, err := json.MarshalIndent(s.days, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) IsDone(ctx context.Context, kind Kind, targetID int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false, ErrClosed
	}
	for _, id := range s.days[s.nowFn()][kind] {
		if id == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fileStore) MarkDone(ctx context.Context, kind Kind, targetID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	day := s.nowFn()
	kinds := s.days[day]
	if kinds == nil {
		kinds = map[Kind][]int64{}
		s.days[day] = kinds
	}
	for _, id := range kinds[kind] {
		if id == targetID {
			return nil
		}
	}
	kinds[kind] = append(kinds[kind], targetID)
	return s.saveLocked()
}

func (s *fileStore) DoneSet(ctx context.Context, kind Kind) (map[int64]struct{}, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrClosed
	}
	out := map[int64]struct{}{}
	for _, id := range s.days[s.nowFn()][kind] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *fileStore) PurgeOld(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	today := s.nowFn()
	changed := false
	for day := range s.days {
		if day != today {
			delete(s.days, day)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
