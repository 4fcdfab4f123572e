package collector

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sys/unix"
)

// DeliveryError describes a failed delivery attempt.
type DeliveryError struct {
	ReportID   int64
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("deliver report %d: collector returned %d: %s", e.ReportID, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("deliver report %d: collector returned %d", e.ReportID, e.StatusCode)
	}
	return fmt.Sprintf("deliver report %d: %v", e.ReportID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Permanent reports whether redelivering the same payload cannot succeed:
// a 4xx answer other than 408, 425 and 429.
func (e *DeliveryError) Permanent() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

// IsPermanent reports whether err is a permanent collector rejection.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent()
}

// StatusCode extracts the collector's HTTP status from err, or 0.
func StatusCode(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}
	return 0
}

// IsUnreachable reports whether err means the collector could not be reached
// at all: refused or unroutable connections, failed dials and DNS failures.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENETUNREACH) || errors.Is(err, unix.EHOSTUNREACH) || errors.Is(err, unix.ENETDOWN) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
