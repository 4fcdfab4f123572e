package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ListDeadLetters returns dead-lettered reports, oldest failure first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT "+deadLetterColumns+" FROM dead_letters ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		letter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// RequeueDeadLetter moves a dead letter back into the pending queue. The
// report gets a new ID, so it sorts after everything already queued, and
// keeps its delivery key.
func (s *Store) RequeueDeadLetter(ctx context.Context, id int64) (Report, error) {
	ctx = ensureContext(ctx)
	var report Report
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		letter, err := scanDeadLetter(tx.QueryRowContext(ctx, "SELECT "+deadLetterColumns+" FROM dead_letters WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("dead letter %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		report = Report{Key: letter.Key, Payload: letter.Payload, CreatedAt: time.Now().UTC()}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO reports (report_key, payload, created_at) VALUES (?, ?, ?)",
			report.Key, string(report.Payload), formatTime(report.CreatedAt),
		)
		if err != nil {
			return err
		}
		if report.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = ?", id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Report{}, err
		}
		return Report{}, fmt.Errorf("requeue dead letter %d: %w", id, err)
	}
	return report, nil
}

// PurgeDeadLetters deletes every dead letter and returns how many were removed.
func (s *Store) PurgeDeadLetters(ctx context.Context) (int64, error) {
	res, err := execWithRetry(ctx, s.db, "DELETE FROM dead_letters")
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return res.RowsAffected()
}
