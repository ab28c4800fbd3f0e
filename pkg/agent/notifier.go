package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier announces lifecycle events to an external registrar.
// Calls are best-effort: callers log failures and continue.
type Notifier interface {
	Notify(ctx context.Context, event string) error
}

// HTTPNotifier posts lifecycle events to a configured endpoint.
type HTTPNotifier struct {
	url     string
	agentID string
	client  *http.Client
}

// NewHTTPNotifier creates a notifier posting to url.
func NewHTTPNotifier(url, agentID string) *HTTPNotifier {
	return &HTTPNotifier{
		url:     url,
		agentID: agentID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts the event. A non-2xx response is an error.
func (n *HTTPNotifier) Notify(ctx context.Context, event string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event":    event,
		"agent_id": n.agentID,
		"at":       time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected: %s", resp.Status)
	}
	return nil
}
