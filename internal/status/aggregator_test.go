package status

import (
	"errors"
	"sync"
	"testing"

	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/storage/storagetest"
)

func TestUpsertStatusIdempotent(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.SeedMonitor(t, s, "1")
	agg := NewAggregator(s)

	for range 3 {
		if err := agg.UpsertStatus(t.Context(), "1", "fra", model.StatusActive); err != nil {
			t.Fatalf("UpsertStatus() error = %v", err)
		}
	}

	rows, err := agg.Statuses(t.Context(), "1")
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Status != model.StatusActive || rows[0].Region != "fra" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestUpsertStatusOverwritesPerRegion(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.SeedMonitor(t, s, "1")
	agg := NewAggregator(s)

	if err := agg.UpsertStatus(t.Context(), "1", "ams", model.StatusError); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, err := agg.Statuses(t.Context(), "1")
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	if err := agg.UpsertStatus(t.Context(), "1", "ams", model.StatusActive); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := agg.Statuses(t.Context(), "1")
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want exactly one (1, ams) row", len(rows))
	}
	if rows[0].Status != model.StatusActive {
		t.Errorf("status = %s, want active", rows[0].Status)
	}
	if !rows[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Errorf("created_at changed from %v to %v", first[0].CreatedAt, rows[0].CreatedAt)
	}
	if rows[0].UpdatedAt.Before(first[0].UpdatedAt) {
		t.Errorf("updated_at moved backwards: %v -> %v", first[0].UpdatedAt, rows[0].UpdatedAt)
	}
}

func TestUpsertStatusConcurrentWritersConverge(t *testing.T) {
	s := storagetest.NewFileStore(t)
	storagetest.SeedMonitor(t, s, "1")
	agg := NewAggregator(s)

	statuses := []model.Status{model.StatusActive, model.StatusError, model.StatusDegraded}
	const writers = 24

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- agg.UpsertStatus(t.Context(), "1", "iad", statuses[i%len(statuses)])
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent UpsertStatus() error = %v", err)
		}
	}

	rows, err := agg.Statuses(t.Context(), "1")
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if !rows[0].Status.Valid() {
		t.Errorf("status = %q, want one of the written values", rows[0].Status)
	}
}

func TestUpsertStatusValidation(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.SeedMonitor(t, s, "1")
	agg := NewAggregator(s)

	tests := []struct {
		name    string
		monitor string
		region  model.Region
		status  model.Status
		wantErr error
	}{
		{"unknown region", "1", "xyz", model.StatusActive, model.ErrInvalidRegion},
		{"empty region", "1", "", model.StatusActive, model.ErrInvalidRegion},
		{"unknown status", "1", "fra", model.Status("up"), model.ErrInvalidStatus},
		{"unknown monitor", "404", "fra", model.StatusActive, model.ErrNotFound},
		{"empty monitor", "", "fra", model.StatusActive, model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := agg.UpsertStatus(t.Context(), tt.monitor, tt.region, tt.status)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UpsertStatus() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	rows, err := agg.Statuses(t.Context(), "1")
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want no writes from rejected input", len(rows))
	}
}

func TestUpsertStatusStorageUnavailable(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.SeedMonitor(t, s, "1")
	agg := NewAggregator(s)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	err := agg.UpsertStatus(t.Context(), "1", "fra", model.StatusActive)
	if !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("UpsertStatus() error = %v, want ErrStorageUnavailable", err)
	}
}
