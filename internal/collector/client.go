package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

const bodySnippetLimit = 2048

// Client posts reports to the collector endpoint.
type Client struct {
	endpoint  string
	token     string
	userAgent string
	client    *http.Client
}

// New builds a collector client from configuration.
func New(cfg *config.Config) *Client {
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:  strings.TrimSpace(cfg.Collector.URL),
		token:     strings.TrimSpace(cfg.Collector.Token),
		userAgent: cfg.Collector.UserAgent,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Endpoint returns the collector URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Deliver sends one report. A nil error means the collector acknowledged it
// with a 2xx status.
func (c *Client) Deliver(ctx context.Context, report queue.Report) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(report.Payload))
	if err != nil {
		return &DeliveryError{ReportID: report.ID, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if report.Key != "" {
		req.Header.Set("Idempotency-Key", report.Key)
	}
	if !report.CreatedAt.IsZero() {
		req.Header.Set("X-Report-Enqueued-At", report.CreatedAt.UTC().Format(time.RFC3339))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &DeliveryError{ReportID: report.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, bodySnippetLimit))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
	return &DeliveryError{
		ReportID:   report.ID,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		Err:        fmt.Errorf("unexpected status %s", resp.Status),
	}
}
