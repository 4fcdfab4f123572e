package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
)

// ErrDaemonUnavailable is returned when no daemon answers on the API address.
var ErrDaemonUnavailable = errors.New("daemon not reachable")

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the daemon configured in cfg, or nil when
// the API is disabled.
func NewClient(cfg *config.Config) *Client {
	if cfg == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return nil
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &Client{
		baseURL: "http://" + net.JoinHostPort(host, port),
		token:   cfg.Paths.APIToken,
		// Sync waits for a full pass, so allow more than a status call needs.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// BaseURL returns the daemon API root.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var status DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// Sync asks the daemon for a background sync and waits for the pass to
// settle. An aborted pass returns its summary together with an error.
func (c *Client) Sync(ctx context.Context) (PassSummary, error) {
	var summary PassSummary
	err := c.do(ctx, http.MethodPost, "/api/sync", nil, &summary)
	if err == nil && summary.Error != "" {
		err = errors.New(summary.Error)
	}
	return summary, err
}

// Reports lists pending reports.
func (c *Client) Reports(ctx context.Context) ([]ReportItem, error) {
	var resp ReportListResponse
	err := c.do(ctx, http.MethodGet, "/api/reports", nil, &resp)
	return resp.Reports, err
}

// Submit hands payload to the daemon's submission path.
func (c *Client) Submit(ctx context.Context, payload json.RawMessage) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/reports", payload, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c == nil {
		return ErrDaemonUnavailable
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		// Pass summaries come back with a 500 when the pass aborted.
		if out != nil && json.Unmarshal(data, out) == nil {
			if summary, ok := out.(*PassSummary); ok && summary.Error != "" {
				return nil
			}
		}
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
