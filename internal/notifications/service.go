package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lectern/internal/config"
)

const userAgent = "Lectern-Go/0.1.0"

// Event identifies a notifiable run or daemon milestone.
type Event string

const (
	EventRunCompleted  Event = "run-completed"
	EventRunFailed     Event = "run-failed"
	EventDaemonStarted Event = "daemon-started"
	EventDaemonStopped Event = "daemon-stopped"
)

// Payload carries the formatting inputs for a notification event.
type Payload map[string]string

// Service defines the notification surface exposed to the runner and daemon.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		runEvents: cfg.Notifications.Runs,
		errEvents: cfg.Notifications.Errors,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	runEvents bool
	errEvents bool
}

// Publish formats the event into an ntfy message and posts it. Events that
// configuration suppresses return nil without sending anything.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	entity := strings.TrimSpace(payload["entity"])

	switch event {
	case EventRunCompleted:
		if !n.runEvents {
			return message{}, false
		}
		body := fmt.Sprintf("✅ Run complete: %s", entity)
		if version := strings.TrimSpace(payload["version"]); version != "" {
			body = fmt.Sprintf("%s (v%s)", body, version)
		}
		if sources := strings.TrimSpace(payload["sources"]); sources != "" {
			body = fmt.Sprintf("%s\nSources: %s", body, sources)
		}
		return message{
			title: "Lectern - Run Complete",
			body:  body,
			tags:  []string{"lectern", "run", "completed"},
		}, true

	case EventRunFailed:
		if !n.errEvents {
			return message{}, false
		}
		body := fmt.Sprintf("❌ Run failed: %s", entity)
		if reason := strings.TrimSpace(payload["reason"]); reason != "" {
			body = fmt.Sprintf("%s\n%s", body, reason)
		}
		return message{
			title:    "Lectern - Run Failed",
			body:     body,
			tags:     []string{"lectern", "run", "failed"},
			priority: "high",
		}, true

	case EventDaemonStarted:
		body := "Daemon started"
		if bind := strings.TrimSpace(payload["bind"]); bind != "" {
			body = fmt.Sprintf("%s on %s", body, bind)
		}
		return message{
			title: "Lectern - Started",
			body:  body,
			tags:  []string{"lectern", "daemon", "started"},
		}, true

	case EventDaemonStopped:
		return message{
			title: "Lectern - Stopped",
			body:  "Daemon stopped",
			tags:  []string{"lectern", "daemon", "stopped"},
		}, true
	}

	return message{}, false
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	msg := message{
		title:    "Lectern - Test",
		body:     "🧪 Notification system test",
		tags:     []string{"lectern", "test"},
		priority: "low",
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) TestNotification(context.Context) error        { return nil }
