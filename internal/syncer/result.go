package syncer

import "time"

// Failure describes why a report did not leave the queue as delivered.
type Failure struct {
	ReportID    int64  `json:"report_id"`
	Error       string `json:"error"`
	StatusCode  int    `json:"status_code,omitempty"`
	Permanent   bool   `json:"permanent"`
	Unreachable bool   `json:"unreachable"`
}

// Result summarizes one flush pass. ID slices are in insertion order.
type Result struct {
	Trigger      string        `json:"trigger"`
	PassID       string        `json:"pass_id"`
	StartedAt    time.Time     `json:"started_at"`
	Snapshot     int           `json:"snapshot"`
	Delivered    []int64       `json:"delivered"`
	Pending      []int64       `json:"pending"`
	DeadLettered []int64       `json:"dead_lettered"`
	Skipped      []int64       `json:"skipped,omitempty"`
	Failures     []Failure     `json:"failures,omitempty"`
	Unreachable  bool          `json:"unreachable"`
	Duration     time.Duration `json:"duration"`
}

// Processed is the number of snapshot reports that reached a partition.
func (r Result) Processed() int {
	return len(r.Delivered) + len(r.Pending) + len(r.DeadLettered) + len(r.Skipped)
}

// Complete reports whether every snapshot report was processed.
func (r Result) Complete() bool {
	return r.Processed() == r.Snapshot
}
