package queue

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const reportColumns = "id, report_key, payload, created_at"

const deadLetterColumns = "id, report_id, report_key, payload, reason, status_code, enqueued_at, failed_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(scanner rowScanner) (Report, error) {
	var (
		report     Report
		payload    string
		createdRaw string
	)
	if err := scanner.Scan(&report.ID, &report.Key, &payload, &createdRaw); err != nil {
		return Report{}, err
	}
	report.Payload = json.RawMessage(payload)
	if created, err := parseTimeString(createdRaw); err == nil {
		report.CreatedAt = created
	}
	return report, nil
}

func scanDeadLetter(scanner rowScanner) (DeadLetter, error) {
	var (
		letter      DeadLetter
		payload     string
		statusCode  sql.NullInt64
		enqueuedRaw string
		failedRaw   string
	)
	if err := scanner.Scan(
		&letter.ID,
		&letter.ReportID,
		&letter.Key,
		&payload,
		&letter.Reason,
		&statusCode,
		&enqueuedRaw,
		&failedRaw,
	); err != nil {
		return DeadLetter{}, err
	}
	letter.Payload = json.RawMessage(payload)
	if statusCode.Valid {
		letter.StatusCode = int(statusCode.Int64)
	}
	if enqueued, err := parseTimeString(enqueuedRaw); err == nil {
		letter.EnqueuedAt = enqueued
	}
	if failed, err := parseTimeString(failedRaw); err == nil {
		letter.FailedAt = failed
	}
	return letter, nil
}

// ValidatePayload rejects empty and non-JSON payloads with ErrInvalidPayload.
func ValidatePayload(payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	return nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
