//go:build sqlite
// +build sqlite

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "medalbot/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	account string
	nowFn   func() string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS completion (
	day       TEXT    NOT NULL,
	account   TEXT    NOT NULL,
	kind      TEXT    NOT NULL,
	target_id INTEGER NOT NULL,
	PRIMARY KEY (day, account, kind, target_id)
);
`

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("ledger path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &sqliteStore{
		db:      db,
		log:     log,
		account: cfg.Account,
		nowFn:   func() string { return DayKey(cfg.Now()) },
	}
	if err := s.PurgeOld(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) IsDone(ctx context.Context, kind Kind, targetID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM completion WHERE day=? AND account=? AND kind=? AND target_id=?`,
		s.nowFn(), s.account, string(kind), targetID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkDone(ctx context.Context, kind Kind, targetID int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completion(day, account, kind, target_id) VALUES(?,?,?,?)
		 ON CONFLICT(day, account, kind, target_id) DO NOTHING`,
		s.nowFn(), s.account, string(kind), targetID,
	)
	return err
}

func (s *sqliteStore) DoneSet(ctx context.Context, kind Kind) (map[int64]struct{}, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id FROM completion WHERE day=? AND account=? AND kind=?`,
		s.nowFn(), s.account, string(kind),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *sqliteStore) PurgeOld(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM completion WHERE account=? AND day<>?`, s.account, s.nowFn())
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
