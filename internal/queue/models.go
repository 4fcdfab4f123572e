package queue

import (
	"encoding/json"
	"time"
)

// Report is one pending incident report.
type Report struct {
	ID        int64           `json:"id" yaml:"id"`
	Key       string          `json:"key" yaml:"key"`
	Payload   json.RawMessage `json:"payload" yaml:"-"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
}

// DeadLetter is a report the collector permanently rejected.
type DeadLetter struct {
	ID         int64           `json:"id" yaml:"id"`
	ReportID   int64           `json:"report_id" yaml:"report_id"`
	Key        string          `json:"key" yaml:"key"`
	Payload    json.RawMessage `json:"payload" yaml:"-"`
	Reason     string          `json:"reason" yaml:"reason"`
	StatusCode int             `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at" yaml:"enqueued_at"`
	FailedAt   time.Time       `json:"failed_at" yaml:"failed_at"`
}

// Stats summarizes queue contents.
type Stats struct {
	Pending       int        `json:"pending" yaml:"pending"`
	DeadLettered  int        `json:"dead_lettered" yaml:"dead_lettered"`
	OldestPending *time.Time `json:"oldest_pending,omitempty" yaml:"oldest_pending,omitempty"`
}

// DatabaseHealth captures diagnostic information about the report database.
type DatabaseHealth struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    string   `json:"schema_version"`
	TablesPresent    []string `json:"tables_present"`
	MissingTables    []string `json:"missing_tables,omitempty"`
	IntegrityCheck   bool     `json:"integrity_check"`
	PendingReports   int      `json:"pending_reports"`
	DeadLetters      int      `json:"dead_letters"`
	Error            string   `json:"error,omitempty"`
}
