package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/makt28/vigil/internal/model"
)

// Catalog is the declarative set of monitors, channels and subscriptions
// synced into the store at start-up and on config reload.
type Catalog struct {
	Monitors      []model.Monitor
	Notifications []model.Notification
	// Subscriptions maps a monitor id to the ids of its notifications.
	Subscriptions map[string][]string
}

// Seed upserts every entry of c. Notifications go first so subscriptions can
// reference them.
func Seed(ctx context.Context, s Store, c Catalog) error {
	for _, n := range c.Notifications {
		if err := s.UpsertNotification(ctx, n); err != nil {
			return err
		}
	}
	for _, m := range c.Monitors {
		if err := s.UpsertMonitor(ctx, m); err != nil {
			return err
		}
		if err := s.SetSubscriptions(ctx, m.ID, c.Subscriptions[m.ID]); err != nil {
			return fmt.Errorf("syncing subscriptions: %w", err)
		}
	}
	slog.Info("catalog synced",
		"monitors", len(c.Monitors),
		"notifications", len(c.Notifications),
	)
	return nil
}
