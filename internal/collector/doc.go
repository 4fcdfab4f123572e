// Package collector delivers reports to the remote collector over HTTP.
//
// One report is sent per request as its raw JSON payload. The report's
// delivery key travels in the Idempotency-Key header so the collector can
// drop redeliveries. Any non-2xx answer or transport failure comes back as a
// *DeliveryError, which tells the flush engine whether the rejection is
// permanent and whether the collector looked unreachable.
package collector
