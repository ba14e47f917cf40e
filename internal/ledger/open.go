package ledger

import (
	"errors"
	"strings"

	logx "medalbot/pkg/logx"
)

// Open initializes the configured store and purges stale days.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Account) == "" {
		return nil, errors.New("ledger account key is required")
	}
	if cfg.Now == nil {
		cfg.Now = Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown ledger driver: " + driver)
	}
}
