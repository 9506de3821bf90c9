package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/makt28/vigil/internal/model"
)

// Sender is the capability set every delivery channel implements. The
// dispatcher never special-cases a provider beyond the registry lookup.
type Sender interface {
	SendAlert(ctx context.Context, m model.Monitor, n model.Notification, statusCode *int, message, incidentID string) error
	SendRecovery(ctx context.Context, m model.Monitor, n model.Notification, statusCode *int, message, incidentID string) error
	// SendDegraded carries no incident id.
	SendDegraded(ctx context.Context, m model.Monitor, n model.Notification, statusCode *int, message string) error
}

// Event is the normalized form a channel renders.
type Event struct {
	Intent       model.Intent
	Monitor      model.Monitor
	Notification model.Notification
	StatusCode   *int
	Message      string
	IncidentID   string
	Timestamp    time.Time
}

// SenderFunc adapts a single delivery function to the Sender interface.
type SenderFunc func(ctx context.Context, ev Event) error

func (f SenderFunc) SendAlert(ctx context.Context, m model.Monitor, n model.Notification, statusCode *int, message, incidentID string) error {
	return f(ctx, newEvent(model.IntentAlert, m, n, statusCode, message, incidentID))
}

func (f SenderFunc) SendRecovery(ctx context.Context, m model.Monitor, n model.Notification, statusCode *int, message, incidentID string) error {
	return f(ctx, newEvent(model.IntentRecovery, m, n, statusCode, message, incidentID))
}

func (f SenderFunc) SendDegraded(ctx context.Context, m model.Monitor, n model.Notification, statusCode *int, message string) error {
	return f(ctx, newEvent(model.IntentDegraded, m, n, statusCode, message, ""))
}

func newEvent(intent model.Intent, m model.Monitor, n model.Notification, statusCode *int, message, incidentID string) Event {
	return Event{
		Intent:       intent,
		Monitor:      m,
		Notification: n,
		StatusCode:   statusCode,
		Message:      message,
		IncidentID:   incidentID,
		Timestamp:    time.Now().UTC(),
	}
}

// decodeData unmarshals a notification's provider configuration.
func decodeData[T any](n model.Notification) (T, error) {
	var cfg T
	if len(n.Data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(n.Data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: decode notification %s data: %v", model.ErrNotificationConfig, n.Provider, n.ID, err)
	}
	return cfg, nil
}
