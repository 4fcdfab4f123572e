package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
)

const userAgent = "fieldsync-notify/0.1.0"

// Event identifies what happened.
type Event string

const (
	EventReportsDeadLettered Event = "reports_dead_lettered"
	EventPassAborted         Event = "pass_aborted"
	EventTest                Event = "test"
)

// Payload carries event details keyed by name.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventReportsDeadLettered: cfg.Notifications.DeadLetters,
			EventPassAborted:         cfg.Notifications.PassAborted,
			EventTest:                true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventReportsDeadLettered:
		count := intValue(payload["count"])
		body := fmt.Sprintf("%d report(s) rejected by the collector and moved to dead letters", count)
		if trigger := stringValue(payload["trigger"]); trigger != "" {
			body += fmt.Sprintf(" (%s sync)", trigger)
		}
		return message{
			title: "fieldsync - Reports Rejected",
			body:  body + "\nInspect with: fieldsync deadletters list",
			tags:  []string{"fieldsync", "deadletter", "warning"},
		}, true
	case EventPassAborted:
		var b strings.Builder
		b.WriteString("Sync aborted")
		if trigger := stringValue(payload["trigger"]); trigger != "" {
			b.WriteString(" during ")
			b.WriteString(trigger)
			b.WriteString(" sync")
		}
		b.WriteString(": ")
		if detail := stringValue(payload["error"]); detail != "" {
			b.WriteString(detail)
		} else {
			b.WriteString("unknown error")
		}
		return message{
			title:    "fieldsync - Sync Error",
			body:     b.String(),
			tags:     []string{"fieldsync", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "fieldsync - Test",
			body:     "Notification system test",
			tags:     []string{"fieldsync", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case error:
		return strings.TrimSpace(value.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func intValue(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case int64:
		return int(value)
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
