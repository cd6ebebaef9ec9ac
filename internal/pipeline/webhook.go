package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers job completion notifications to a configured webhook.
// Delivery is fire and forget: failures are logged, never surfaced to the
// pipeline caller.
type Notifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNotifier creates a webhook notifier, or nil when no URL is configured
func NewNotifier(url string, timeout time.Duration, logger *slog.Logger) *Notifier {
	if url == "" {
		return nil
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Notify posts the job result to the webhook in the background
func (n *Notifier) Notify(result *JobResult) {
	go n.deliver(result)
}

func (n *Notifier) deliver(result *JobResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		n.logger.Warn("failed to encode webhook payload", "job_id", result.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn("failed to create webhook request", "job_id", result.JobID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "job_id", result.JobID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected notification", "job_id", result.JobID, "status", resp.StatusCode)
	}
}
