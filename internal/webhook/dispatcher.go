// Package webhook delivers signed lifecycle events to the platform's
// configured webhook endpoint.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/telemetry"
)

const (
	headerEvent     = "X-Webhook-Event"
	headerTimestamp = "X-Webhook-Timestamp"
	headerSignature = "X-Webhook-Signature"
)

// DeliveryError reports that an event could not be delivered after all
// attempts. Callers log it and move on; delivery failures never fail the
// operation that raised the event.
type DeliveryError struct {
	Event    string
	Attempts int
	Status   int
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivering %s after %d attempts: %v", e.Event, e.Attempts, e.Err)
	}
	return fmt.Sprintf("delivering %s after %d attempts: last status %d", e.Event, e.Attempts, e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Config struct {
	// Endpoint empty disables delivery: dispatch becomes a no-op.
	Endpoint   string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type Dispatcher struct {
	endpoint   string
	secret     string
	maxRetries int
	retryDelay time.Duration
	client     *resty.Client
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Dispatcher{
		endpoint:   cfg.Endpoint,
		secret:     cfg.Secret,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     resty.New().SetTimeout(cfg.Timeout),
		logger:     logger,
	}
}

// Sign computes the hex HMAC-SHA256 of payload in the header form
// "sha256=<hex>". The same payload and secret always produce the same value.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatch posts one event to the configured endpoint. Without an endpoint it
// returns nil immediately. Delivery counts 2xx-ish acknowledgements
// (200, 201, 202, 204) as success and retries everything else with
// exponential backoff until the attempt budget runs out.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data map[string]any) error {
	if d.endpoint == "" {
		d.logger.Debug("webhook endpoint not configured, skipping dispatch", zap.String("event", event))
		return nil
	}

	payload := map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	headers := map[string]string{
		"Content-Type":  "application/json",
		headerEvent:     event,
		headerTimestamp: payload["timestamp"].(string),
	}
	if d.secret != "" {
		headers[headerSignature] = Sign(d.secret, body)
	}

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if attempt > 1 {
			telemetry.WebhookRetries.Inc()
		}
		resp, err := d.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(body).
			Post(d.endpoint)
		if err == nil && deliverySucceeded(resp.StatusCode()) {
			telemetry.WebhookDeliveries.WithLabelValues(event, "success").Inc()
			d.logger.Debug("webhook delivered",
				zap.String("event", event),
				zap.Int("status", resp.StatusCode()),
				zap.Int("attempt", attempt))
			return nil
		}
		if err != nil {
			lastErr = err
			lastStatus = 0
			d.logger.Warn("webhook delivery attempt failed",
				zap.String("event", event),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			lastErr = nil
			lastStatus = resp.StatusCode()
			d.logger.Warn("webhook delivery attempt rejected",
				zap.String("event", event),
				zap.Int("attempt", attempt),
				zap.Int("status", lastStatus))
		}

		if attempt < d.maxRetries {
			backoff := d.retryDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				telemetry.WebhookDeliveries.WithLabelValues(event, "failure").Inc()
				return &DeliveryError{Event: event, Attempts: attempt, Status: lastStatus, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}

	telemetry.WebhookDeliveries.WithLabelValues(event, "failure").Inc()
	return &DeliveryError{Event: event, Attempts: d.maxRetries, Status: lastStatus, Err: lastErr}
}

func deliverySucceeded(status int) bool {
	switch status {
	case 200, 201, 202, 204:
		return true
	}
	return false
}
