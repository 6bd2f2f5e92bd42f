// Package alertsink delivers whale alerts to an external webhook, the
// "Alert sink" branch of spec §2's data-flow diagram (Processors -> bus ->
// Repository, and separately -> Alert sink). Grounded directly on the
// teacher's notifications.WebhookManager (notifications/webhook_manager.go):
// same payload-then-POST shape, same per-delivery retry/log pattern,
// generalized from Stockbit's multi-webhook DB-backed registry (this
// deployment has exactly one configured sink, not a webhook table) to a
// single configured URL with the same delivery semantics.
package alertsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/apperr"
	"github.com/nofendian17/hl-whale-signal/internal/events"
)

// Payload mirrors the teacher's WebhookPayload shape, adapted from a stock
// alert's {StockSymbol, Action, VolumeLots} fields to a whale alert's
// {Coin, Tier, ChangePct} fields.
type Payload struct {
	Priority     string               `json:"priority"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	DetectedAt   time.Time            `json:"detected_at"`
	ExpiresAt    time.Time            `json:"expires_at"`
	SignalImpact string               `json:"signal_impact"`
	Changes      []events.WhaleChange `json:"changes"`
}

// Sink posts whale alerts to one configured webhook URL.
type Sink struct {
	url        string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// New constructs a Sink. An empty url disables delivery (Deliver becomes
// a no-op) — the same "optional, log and continue" posture the teacher
// applies to Redis in app/app.go.
func New(url string) *Sink {
	return &Sink{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		retryDelay: 2 * time.Second,
	}
}

func toPayload(alert *events.WhaleAlert) Payload {
	return Payload{
		Priority:     string(alert.Priority),
		Title:        alert.Title,
		Description:  alert.Description,
		DetectedAt:   alert.DetectedAt,
		ExpiresAt:    alert.ExpiresAt,
		SignalImpact: alert.SignalImpact,
		Changes:      alert.Changes,
	}
}

// Deliver posts one alert, making at most maxRetries attempts in total
// (spec §9's retry helper policy: base delay, no backoff growth here since
// webhook endpoints are typically flat-rate limited, matching the
// teacher's deliverWebhook loop which also uses a fixed per-attempt delay).
func (s *Sink) Deliver(ctx context.Context, alert *events.WhaleAlert) error {
	if s.url == "" {
		return nil
	}

	body, err := json.Marshal(toPayload(alert))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "alertsink.Deliver", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return apperr.Wrap(apperr.Internal, "alertsink.Deliver", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "hl-whale-signal/1.0")

		resp, err := s.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			log.Printf("📡 alertsink: delivered %s alert (attempt %d/%d)", alert.Priority, attempt, s.maxRetries)
			return nil
		}
		if resp != nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < s.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}

	log.Printf("⚠️  alertsink: delivery failed after %d attempts: %v", s.maxRetries, lastErr)
	return apperr.Wrap(apperr.TransientNetwork, "alertsink.Deliver", lastErr)
}
