package queue

import "errors"

var (
	// ErrStorageUnavailable reports that the store could not be opened or
	// written. Callers on the enqueue path must surface it: the report was
	// not persisted.
	ErrStorageUnavailable = errors.New("report storage unavailable")

	// ErrTransactionAborted reports a storage failure in the middle of a
	// flush pass. The pass is incomplete; unprocessed records stay queued.
	ErrTransactionAborted = errors.New("flush pass transaction aborted")

	// ErrInvalidPayload rejects empty or non-JSON report payloads.
	ErrInvalidPayload = errors.New("invalid report payload")

	// ErrNotFound reports a missing dead letter.
	ErrNotFound = errors.New("not found")
)
