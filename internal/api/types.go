package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ReportItem describes a pending report.
type ReportItem struct {
	ID        int64           `json:"id"`
	Key       string          `json:"key"`
	CreatedAt string          `json:"createdAt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DeadLetterItem describes a permanently rejected report.
type DeadLetterItem struct {
	ID         int64           `json:"id"`
	ReportID   int64           `json:"reportId"`
	Key        string          `json:"key"`
	Reason     string          `json:"reason"`
	StatusCode int             `json:"statusCode,omitempty"`
	EnqueuedAt string          `json:"enqueuedAt,omitempty"`
	FailedAt   string          `json:"failedAt,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// QueueStats summarizes queue depth.
type QueueStats struct {
	Pending       int    `json:"pending"`
	DeadLetters   int    `json:"deadLetters"`
	OldestPending string `json:"oldestPending,omitempty"`
}

// FailureItem explains why a report stayed queued or was dead-lettered.
type FailureItem struct {
	ReportID    int64  `json:"reportId"`
	Error       string `json:"error"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Permanent   bool   `json:"permanent"`
	Unreachable bool   `json:"unreachable"`
}

// PassSummary reports the partitions of one flush pass.
type PassSummary struct {
	Trigger      string        `json:"trigger"`
	PassID       string        `json:"passId"`
	StartedAt    string        `json:"startedAt,omitempty"`
	Snapshot     int           `json:"snapshot"`
	Delivered    []int64       `json:"delivered"`
	Pending      []int64       `json:"pending"`
	DeadLettered []int64       `json:"deadLettered"`
	Skipped      []int64       `json:"skipped,omitempty"`
	Failures     []FailureItem `json:"failures,omitempty"`
	Unreachable  bool          `json:"unreachable"`
	DurationMS   int64         `json:"durationMs"`
	Error        string        `json:"error,omitempty"`
}

// ConnectivityStatus reports the collector reachability monitor.
type ConnectivityStatus struct {
	Enabled   bool   `json:"enabled"`
	Target    string `json:"target,omitempty"`
	State     string `json:"state"`
	LastProbe string `json:"lastProbe,omitempty"`
	LastError string `json:"lastError,omitempty"`
	Netlink   bool   `json:"netlink"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	DatabasePath  string             `json:"databasePath"`
	LockFilePath  string             `json:"lockFilePath"`
	CollectorURL  string             `json:"collectorUrl"`
	Schedule      string             `json:"schedule,omitempty"`
	NextScheduled string             `json:"nextScheduled,omitempty"`
	SpoolDir      string             `json:"spoolDir,omitempty"`
	Queue         QueueStats         `json:"queue"`
	Connectivity  ConnectivityStatus `json:"connectivity"`
	LastPass      *PassSummary       `json:"lastPass,omitempty"`
}

// ReportListResponse wraps pending reports.
type ReportListResponse struct {
	Reports []ReportItem `json:"reports"`
}

// DeadLetterListResponse wraps dead letters.
type DeadLetterListResponse struct {
	DeadLetters []DeadLetterItem `json:"deadLetters"`
}

// SubmitResponse is returned by POST /api/reports.
type SubmitResponse struct {
	Outcome  string `json:"outcome"`
	Key      string `json:"key"`
	ReportID int64  `json:"reportId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// RequeueResponse is returned when a dead letter is put back on the queue.
type RequeueResponse struct {
	Report ReportItem `json:"report"`
}

// ErrorResponse carries an error message.
type ErrorResponse struct {
	Error string `json:"error"`
}
