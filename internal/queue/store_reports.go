package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enqueue persists payload as a new pending report under a fresh delivery key.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) (Report, error) {
	return s.EnqueueKeyed(ctx, uuid.NewString(), payload)
}

// EnqueueKeyed persists payload under the supplied delivery key. The ID is
// always assigned by the store and is greater than any ID it handed out
// before. Storage failures wrap ErrStorageUnavailable.
func (s *Store) EnqueueKeyed(ctx context.Context, key string, payload json.RawMessage) (Report, error) {
	if err := ValidatePayload(payload); err != nil {
		return Report{}, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = uuid.NewString()
	}
	if s == nil || s.db == nil {
		return Report{}, fmt.Errorf("%w: store not open", ErrStorageUnavailable)
	}

	report := Report{
		Key:       key,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO reports (report_key, payload, created_at) VALUES (?, ?, ?)",
			report.Key, string(report.Payload), formatTime(report.CreatedAt),
		)
		if err != nil {
			return err
		}
		report.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("%w: enqueue report: %w", ErrStorageUnavailable, err)
	}
	return report, nil
}

// ListAll returns every pending report ordered by ascending ID. The result is
// a point-in-time snapshot.
func (s *Store) ListAll(ctx context.Context) ([]Report, error) {
	return listReports(ensureContext(ctx), s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listReports(ctx context.Context, q querier) ([]Report, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+reportColumns+" FROM reports ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

// Get returns the pending report with the given ID, or nil when absent.
func (s *Store) Get(ctx context.Context, id int64) (*Report, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+reportColumns+" FROM reports WHERE id = ?", id)
	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %d: %w", id, err)
	}
	return &report, nil
}

// Remove deletes a pending report. Removing an ID that does not exist is not
// an error; the boolean reports whether a row was deleted.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := execWithRetry(ctx, s.db, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("remove report %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove report %d: %w", id, err)
	}
	return affected > 0, nil
}

// Stats summarizes pending and dead-lettered reports.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	var (
		stats     Stats
		oldestRaw sql.NullString
	)
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(1), MIN(created_at) FROM reports")
	if err := row.Scan(&stats.Pending, &oldestRaw); err != nil {
		return Stats{}, fmt.Errorf("report stats: %w", err)
	}
	if oldestRaw.Valid {
		if oldest, err := parseTimeString(oldestRaw.String); err == nil {
			stats.OldestPending = &oldest
		}
	}
	row = s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM dead_letters")
	if err := row.Scan(&stats.DeadLettered); err != nil {
		return Stats{}, fmt.Errorf("dead letter stats: %w", err)
	}
	return stats, nil
}
