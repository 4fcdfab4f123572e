package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Pass is the store side of one flush pass. It pins a single connection for
// its lifetime and holds the snapshot of pending reports taken when it began.
// Reports enqueued after BeginPass are not part of the snapshot and are never
// touched by the pass.
type Pass struct {
	conn      *sql.Conn
	records   []Report
	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	closed bool
}

// BeginPass acquires a connection and reads the snapshot inside a
// transaction on it. Failures wrap ErrTransactionAborted.
func (s *Store) BeginPass(ctx context.Context) (*Pass, error) {
	ctx = ensureContext(ctx)
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("%w: store not open", ErrTransactionAborted)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", ErrTransactionAborted, err)
	}

	var records []Report
	err = inTx(ctx, conn, func(tx *sql.Tx) error {
		var listErr error
		records, listErr = listReports(ctx, tx)
		return listErr
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: read snapshot: %w", ErrTransactionAborted, err)
	}
	return &Pass{conn: conn, records: records}, nil
}

// WithPass runs fn with a fresh pass and releases it on every exit path.
func (s *Store) WithPass(ctx context.Context, fn func(*Pass) error) error {
	pass, err := s.BeginPass(ctx)
	if err != nil {
		return err
	}
	defer pass.Close()
	return fn(pass)
}

// Records returns the snapshot in ascending ID order.
func (p *Pass) Records() []Report {
	out := make([]Report, len(p.records))
	copy(out, p.records)
	return out
}

// Remove deletes a delivered report in its own committed transaction. The
// boolean is false when the report was already gone, for example because an
// overlapping pass delivered it first.
func (p *Pass) Remove(ctx context.Context, id int64) (bool, error) {
	if err := p.checkOpen(); err != nil {
		return false, err
	}
	res, err := execWithRetry(ctx, p.conn, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("%w: remove report %d: %w", ErrTransactionAborted, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: remove report %d: %w", ErrTransactionAborted, id, err)
	}
	return affected > 0, nil
}

// DeadLetter moves a permanently rejected report out of the queue: the row is
// deleted from reports and recorded in dead_letters in one transaction. The
// boolean is false when the report had already been removed, in which case
// nothing is recorded.
func (p *Pass) DeadLetter(ctx context.Context, report Report, reason string, statusCode int) (bool, error) {
	if err := p.checkOpen(); err != nil {
		return false, err
	}
	moved := false
	err := inTx(ctx, p.conn, func(tx *sql.Tx) error {
		moved = false
		res, err := tx.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", report.ID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil || affected == 0 {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO dead_letters (report_id, report_key, payload, reason, status_code, enqueued_at, failed_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			report.ID, report.Key, string(report.Payload), reason, nullableInt(statusCode),
			formatTime(report.CreatedAt), formatTime(time.Now()),
		)
		if err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: dead-letter report %d: %w", ErrTransactionAborted, report.ID, err)
	}
	return moved, nil
}

// Close releases the pinned connection. It is safe to call more than once.
func (p *Pass) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

func (p *Pass) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %w", ErrTransactionAborted, errPassClosed)
	}
	return nil
}

var errPassClosed = errors.New("pass already closed")
