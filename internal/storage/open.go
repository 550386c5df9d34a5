package storage

import (
	"context"
	"fmt"
	"strings"

	logx "jiranotify/pkg/logx"
)

// Store is the persistence API used by the watcher and the notifier.
type Store interface {
	LoadSeen(ctx context.Context) ([]string, error)
	AddSeen(ctx context.Context, ids ...string) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := normalizeDriver(cfg.Driver)
	if driver == "none" {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// ValidDriver reports whether d names a supported driver.
func ValidDriver(d string) bool {
	switch normalizeDriver(d) {
	case "none", "file", "sqlite":
		return true
	}
	return false
}

func normalizeDriver(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "", "none":
		return "none"
	case "sqlite3":
		return "sqlite"
	}
	return d
}
