package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"go.uber.org/zap"
)

// WebhookPayload is the body POSTed for every record.
type WebhookPayload struct {
	Record *models.Record `json:"record"`
	Source string         `json:"source"`
}

// WebhookSink forwards records to an HTTP endpoint.
type WebhookSink struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

func NewWebhookSink(url string, logger *zap.Logger) *WebhookSink {
	return &WebhookSink{
		logger: logger,
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Publish(ctx context.Context, rec *models.Record) error {
	jsonData, err := json.Marshal(WebhookPayload{Record: rec, Source: "mq7-relay"})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MQ7-Relay/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.CopyN(io.Discard, resp.Body, 512)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Debug("Record sent to webhook",
			zap.String("gas", string(rec.GasType)),
			zap.Int("status_code", resp.StatusCode))
		return nil
	}
	return fmt.Errorf("webhook returned %s", resp.Status)
}

func (w *WebhookSink) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}
