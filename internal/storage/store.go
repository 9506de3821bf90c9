package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/makt28/vigil/internal/model"
)

// Store is the persistence surface shared by the aggregator, the dispatcher
// and the audit sink. Implementations must be safe for concurrent use.
type Store interface {
	// UpsertMonitorStatus inserts the (monitor, region) row or, on conflict,
	// overwrites status and refreshes updated_at in one atomic statement.
	// Returns model.ErrNotFound when the monitor does not exist.
	UpsertMonitorStatus(ctx context.Context, monitorID string, region model.Region, status model.Status) (model.MonitorRegionStatus, error)
	ListMonitorStatuses(ctx context.Context, monitorID string) ([]model.MonitorRegionStatus, error)

	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)
	ListMonitors(ctx context.Context) ([]model.Monitor, error)
	UpsertMonitor(ctx context.Context, m model.Monitor) error

	UpsertNotification(ctx context.Context, n model.Notification) error
	// SetSubscriptions replaces the notifications subscribed to a monitor.
	SetSubscriptions(ctx context.Context, monitorID string, notificationIDs []string) error
	// ListSubscriptions returns the subscriptions of a monitor joined to their
	// notification and monitor rows, ordered by notification id.
	ListSubscriptions(ctx context.Context, monitorID string) ([]model.ResolvedSubscription, error)

	AppendAudit(ctx context.Context, rec model.AuditRecord) error
	ListAudit(ctx context.Context, subject string) ([]model.AuditRecord, error)
	// PruneAudit deletes audit records created before cutoff and returns how
	// many were removed.
	PruneAudit(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the Store backend selected by driver.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, model.ErrStorageUnavailable, err)
}
