package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/makt28/vigil/internal/model"
)

// Webhook posts a JSON description of the event to an arbitrary endpoint.
type Webhook struct {
	Client *http.Client
}

type webhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Remark  string            `json:"remark"`
}

type webhookPayload struct {
	MonitorID   string `json:"monitor_id"`
	MonitorName string `json:"monitor_name"`
	Intent      string `json:"intent"`
	Target      string `json:"target,omitempty"`
	StatusCode  *int   `json:"status_code,omitempty"`
	Message     string `json:"message,omitempty"`
	IncidentID  string `json:"incident_id,omitempty"`
	Remark      string `json:"remark,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

func (w *Webhook) Deliver(ctx context.Context, ev Event) error {
	cfg, err := decodeData[webhookConfig](ev.Notification)
	if err != nil {
		return err
	}
	if cfg.URL == "" {
		return fmt.Errorf("%w: webhook: url is required", model.ErrNotificationConfig)
	}

	payload := webhookPayload{
		MonitorID:   ev.Monitor.ID,
		MonitorName: ev.Monitor.Name,
		Intent:      string(ev.Intent),
		Target:      ev.Monitor.URL,
		StatusCode:  ev.StatusCode,
		Message:     ev.Message,
		IncidentID:  ev.IncidentID,
		Remark:      cfg.Remark,
		Timestamp:   ev.Timestamp.Unix(),
	}
	if err := postJSON(ctx, w.Client, cfg.Method, cfg.URL, cfg.Headers, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
