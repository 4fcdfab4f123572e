package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var expectedTables = []string{"reports", "dead_letters", "schema_migrations"}

// CheckHealth returns diagnostic information about the report database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		DBPath:        s.path,
		SchemaVersion: latestMigration(),
	}

	if s.path == "" {
		return health, errors.New("report database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat report database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("report database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("report database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping report database: %w", err)
	}
	health.DatabaseReadable = true

	for _, table := range expectedTables {
		var name string
		row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		switch err := row.Scan(&name); {
		case errors.Is(err, sql.ErrNoRows):
			health.MissingTables = append(health.MissingTables, table)
		case err != nil:
			health.Error = err.Error()
			return health, fmt.Errorf("query table %s: %w", table, err)
		default:
			health.TablesPresent = append(health.TablesPresent, name)
		}
	}

	if len(health.MissingTables) == 0 {
		stats, err := s.Stats(connCtx)
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		health.PendingReports = stats.Pending
		health.DeadLetters = stats.DeadLettered
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
