package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"mentorme-service/pkg/sl"
)

// Event is the payload handed to the delivery side (push/email/ICS).
// Delivery is best-effort; the core never blocks on it and never fails a
// state transition because of it.
type Event struct {
	Type      string         `json:"type"`
	BookingID string         `json:"booking_id,omitempty"`
	MentorID  string         `json:"mentor_id,omitempty"`
	MenteeID  string         `json:"mentee_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Gateway interface {
	Notify(ctx context.Context, event Event)
}

// WebhookGateway POSTs events to an external notification service.
// An empty URL disables delivery entirely.
type WebhookGateway struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhookGateway(url string, log *slog.Logger) *WebhookGateway {
	if url == "" {
		log.Warn("webhook url is empty, notifications disabled")
	}

	return &WebhookGateway{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

func (g *WebhookGateway) Notify(ctx context.Context, event Event) {
	if g.url == "" {
		g.log.Debug("notification skipped (gateway disabled)", slog.String("type", event.Type))
		return
	}

	if err := ctx.Err(); err != nil {
		g.log.Debug("notification skipped (context cancelled)", slog.String("type", event.Type))
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		g.log.Error("failed to marshal notification", sl.Err(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		g.log.Error("failed to build notification request", sl.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("failed to deliver notification",
			slog.String("type", event.Type),
			sl.Err(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		g.log.Error("notification rejected by gateway",
			slog.String("type", event.Type),
			slog.Int("status", resp.StatusCode),
		)
	}
}
