package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/StrathCole/oracle-trust/pkg/logging"
)

// Webhook is one delivery target. The URL is read from the environment at send time
// so secrets never appear in config files.
type Webhook struct {
	Type   string // slack, teams, http
	URLEnv string
	url    string
}

// URL returns the target URL.
func (w Webhook) URL() string {
	if w.url != "" {
		return w.url
	}
	return os.Getenv(w.URLEnv)
}

// WebhookAlerter posts alerts to chat and HTTP webhooks.
type WebhookAlerter struct {
	webhooks []Webhook
	client   *http.Client
	logger   *logging.Logger
}

// NewWebhookAlerter creates an alerter for the given targets.
func NewWebhookAlerter(webhooks []Webhook, logger *logging.Logger) *WebhookAlerter {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &WebhookAlerter{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Send delivers a to every target with a URL. Failures are logged; the last one is returned.
func (w *WebhookAlerter) Send(ctx context.Context, a Alert) error {
	var lastErr error
	for _, wh := range w.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = w.sendSlack(ctx, url, a)
		case "teams":
			err = w.sendTeams(ctx, url, a)
		case "http":
			err = w.sendHTTP(ctx, url, a)
		default:
			w.logger.Warn("Unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			w.logger.Error("Webhook delivery failed", "type", wh.Type, "kind", a.Kind, "error", err)
			lastErr = err
			continue
		}
		w.logger.Debug("Webhook delivered", "type", wh.Type, "kind", a.Kind)
	}
	return lastErr
}

func (w *WebhookAlerter) sendSlack(ctx context.Context, url string, a Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s: %s", severityLabel(a.Severity), a.Subject, a.Message),
	})
	return w.post(ctx, url, body)
}

func (w *WebhookAlerter) sendTeams(ctx context.Context, url string, a Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.Kind,
		"title":      fmt.Sprintf("Oracle trust alert: %s", a.Subject),
		"text":       a.Message,
	}
	body, _ := json.Marshal(payload)
	return w.post(ctx, url, body)
}

func (w *WebhookAlerter) sendHTTP(ctx context.Context, url string, a Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return w.post(ctx, url, body)
}

func (w *WebhookAlerter) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case SeverityCritical:
		return "[CRITICAL]"
	case SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case SeverityCritical:
		return "FF4F6A"
	case SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
