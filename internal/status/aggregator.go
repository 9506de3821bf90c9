// Package status merges regional check results into the per-(monitor, region)
// state table.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/makt28/vigil/internal/metrics"
	"github.com/makt28/vigil/internal/model"
)

// Store is the storage capability the aggregator writes through.
type Store interface {
	UpsertMonitorStatus(ctx context.Context, monitorID string, region model.Region, status model.Status) (model.MonitorRegionStatus, error)
	ListMonitorStatuses(ctx context.Context, monitorID string) ([]model.MonitorRegionStatus, error)
}

// Aggregator owns all writes to the monitor status table. It keeps no
// in-process state; per-key serialization is left to the store's upsert.
type Aggregator struct {
	store Store
}

// NewAggregator creates an Aggregator writing to store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// UpsertStatus records that region observed status for monitorID.
// It does not retry; callers decide whether to re-probe.
func (a *Aggregator) UpsertStatus(ctx context.Context, monitorID string, region model.Region, status model.Status) error {
	if !region.Valid() {
		metrics.StatusUpsertErrors.WithLabelValues("invalid_region").Inc()
		return fmt.Errorf("%w: %q", model.ErrInvalidRegion, region)
	}
	if !status.Valid() {
		metrics.StatusUpsertErrors.WithLabelValues("invalid_status").Inc()
		return fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}
	if monitorID == "" {
		metrics.StatusUpsertErrors.WithLabelValues("not_found").Inc()
		return fmt.Errorf("empty monitor id: %w", model.ErrNotFound)
	}

	row, err := a.store.UpsertMonitorStatus(ctx, monitorID, region, status)
	if err != nil {
		reason := "storage"
		if errors.Is(err, model.ErrNotFound) {
			reason = "not_found"
		}
		metrics.StatusUpsertErrors.WithLabelValues(reason).Inc()
		return err
	}

	metrics.StatusUpserts.WithLabelValues(string(region), string(status)).Inc()
	slog.Info("monitor status upserted",
		"monitor_id", row.MonitorID,
		"region", row.Region,
		"status", row.Status,
		"updated_at", row.UpdatedAt,
	)
	return nil
}

// Statuses returns the current status of a monitor in every region that has
// reported it.
func (a *Aggregator) Statuses(ctx context.Context, monitorID string) ([]model.MonitorRegionStatus, error) {
	return a.store.ListMonitorStatuses(ctx, monitorID)
}
