package api

import (
	"time"

	"fieldsync/internal/queue"
	"fieldsync/internal/submit"
	"fieldsync/internal/syncer"
)

// FormatTime renders t in the API timestamp format, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses an API timestamp; empty input yields the zero time.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateTimeFormat, value)
}

// FromReport converts a queue record to its API representation.
func FromReport(report queue.Report, withPayload bool) ReportItem {
	dto := ReportItem{
		ID:        report.ID,
		Key:       report.Key,
		CreatedAt: FormatTime(report.CreatedAt),
	}
	if withPayload {
		dto.Payload = report.Payload
	}
	return dto
}

// FromReports converts reports, preserving order.
func FromReports(reports []queue.Report, withPayload bool) []ReportItem {
	out := make([]ReportItem, 0, len(reports))
	for _, report := range reports {
		out = append(out, FromReport(report, withPayload))
	}
	return out
}

// FromDeadLetters converts dead letters, preserving order.
func FromDeadLetters(letters []queue.DeadLetter, withPayload bool) []DeadLetterItem {
	out := make([]DeadLetterItem, 0, len(letters))
	for _, letter := range letters {
		dto := DeadLetterItem{
			ID:         letter.ID,
			ReportID:   letter.ReportID,
			Key:        letter.Key,
			Reason:     letter.Reason,
			StatusCode: letter.StatusCode,
			EnqueuedAt: FormatTime(letter.EnqueuedAt),
			FailedAt:   FormatTime(letter.FailedAt),
		}
		if withPayload {
			dto.Payload = letter.Payload
		}
		out = append(out, dto)
	}
	return out
}

// FromStats converts queue statistics.
func FromStats(stats queue.Stats) QueueStats {
	dto := QueueStats{Pending: stats.Pending, DeadLetters: stats.DeadLettered}
	if stats.OldestPending != nil {
		dto.OldestPending = FormatTime(*stats.OldestPending)
	}
	return dto
}

// FromResult converts a pass result and its abort error.
func FromResult(result syncer.Result, err error) PassSummary {
	dto := PassSummary{
		Trigger:      result.Trigger,
		PassID:       result.PassID,
		StartedAt:    FormatTime(result.StartedAt),
		Snapshot:     result.Snapshot,
		Delivered:    nonNil(result.Delivered),
		Pending:      nonNil(result.Pending),
		DeadLettered: nonNil(result.DeadLettered),
		Skipped:      result.Skipped,
		Unreachable:  result.Unreachable,
		DurationMS:   result.Duration.Milliseconds(),
	}
	for _, f := range result.Failures {
		dto.Failures = append(dto.Failures, FailureItem{
			ReportID:    f.ReportID,
			Error:       f.Error,
			StatusCode:  f.StatusCode,
			Permanent:   f.Permanent,
			Unreachable: f.Unreachable,
		})
	}
	if err != nil {
		dto.Error = err.Error()
	}
	return dto
}

// FromReceipt converts a submission receipt.
func FromReceipt(receipt submit.Receipt) SubmitResponse {
	return SubmitResponse{
		Outcome:  string(receipt.Outcome),
		Key:      receipt.Key,
		ReportID: receipt.ReportID,
		Reason:   receipt.Reason,
	}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
