package storage_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/storage"
	"github.com/makt28/vigil/internal/storage/storagetest"
)

func testCatalog() storage.Catalog {
	return storage.Catalog{
		Monitors: []model.Monitor{
			{ID: "1", WorkspaceID: "ws", Name: "api", Active: true, Method: "http", URL: "https://api.example.com", Periodicity: 30, Regions: []model.Region{"ams", "iad"}},
			{ID: "2", WorkspaceID: "ws", Name: "site", Active: false, Method: "tcp", URL: "example.com:443", Periodicity: 300},
		},
		Notifications: []model.Notification{
			{ID: "n-mail", WorkspaceID: "ws", Name: "oncall", Provider: model.ProviderEmail, Data: json.RawMessage(`{"to":["ops@example.com"]}`)},
			{ID: "n-hook", WorkspaceID: "ws", Name: "hook", Provider: model.ProviderWebhook, Data: json.RawMessage(`{"url":"https://hooks.example.com"}`)},
		},
		Subscriptions: map[string][]string{
			"1": {"n-mail", "n-hook"},
		},
	}
}

func TestSeedAndListMonitors(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.Seed(t, s, testCatalog())

	monitors, err := s.ListMonitors(t.Context())
	if err != nil {
		t.Fatalf("ListMonitors() error = %v", err)
	}
	if len(monitors) != 2 {
		t.Fatalf("monitors = %d, want 2", len(monitors))
	}

	m, err := s.GetMonitor(t.Context(), "1")
	if err != nil {
		t.Fatalf("GetMonitor() error = %v", err)
	}
	if m.Name != "api" || m.Periodicity != 30 || len(m.Regions) != 2 || !m.Active {
		t.Errorf("monitor = %+v", m)
	}

	inactive, err := s.GetMonitor(t.Context(), "2")
	if err != nil {
		t.Fatalf("GetMonitor(2) error = %v", err)
	}
	if inactive.Active {
		t.Errorf("monitor 2 Active = true, want false")
	}

	if _, err := s.GetMonitor(t.Context(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetMonitor(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListSubscriptionsJoinsInOrder(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.Seed(t, s, testCatalog())

	subs, err := s.ListSubscriptions(t.Context(), "1")
	if err != nil {
		t.Fatalf("ListSubscriptions() error = %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
	if subs[0].Notification.ID != "n-hook" || subs[1].Notification.ID != "n-mail" {
		t.Errorf("order = [%s %s], want notification id order", subs[0].Notification.ID, subs[1].Notification.ID)
	}
	if subs[1].Notification.Provider != model.ProviderEmail {
		t.Errorf("provider = %s, want email", subs[1].Notification.Provider)
	}
	if string(subs[1].Notification.Data) != `{"to":["ops@example.com"]}` {
		t.Errorf("data = %s", subs[1].Notification.Data)
	}
	if subs[0].Monitor.ID != "1" || subs[0].Monitor.URL != "https://api.example.com" {
		t.Errorf("monitor = %+v", subs[0].Monitor)
	}

	none, err := s.ListSubscriptions(t.Context(), "2")
	if err != nil {
		t.Fatalf("ListSubscriptions(2) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("subscriptions of monitor 2 = %d, want 0", len(none))
	}
}

func TestSetSubscriptionsReplaces(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.Seed(t, s, testCatalog())

	if err := s.SetSubscriptions(t.Context(), "1", []string{"n-hook"}); err != nil {
		t.Fatalf("SetSubscriptions() error = %v", err)
	}
	subs, err := s.ListSubscriptions(t.Context(), "1")
	if err != nil {
		t.Fatalf("ListSubscriptions() error = %v", err)
	}
	if len(subs) != 1 || subs[0].Notification.ID != "n-hook" {
		t.Errorf("subscriptions = %+v, want only n-hook", subs)
	}
}

func TestUpsertMonitorStatusReturnsMergedRow(t *testing.T) {
	s := storagetest.NewTestStore(t)
	storagetest.SeedMonitor(t, s, "1")

	first, err := s.UpsertMonitorStatus(t.Context(), "1", "ams", model.StatusError)
	if err != nil {
		t.Fatalf("UpsertMonitorStatus() error = %v", err)
	}
	if first.Status != model.StatusError || first.CreatedAt.IsZero() {
		t.Errorf("first row = %+v", first)
	}

	time.Sleep(5 * time.Millisecond)
	second, err := s.UpsertMonitorStatus(t.Context(), "1", "ams", model.StatusActive)
	if err != nil {
		t.Fatalf("UpsertMonitorStatus() error = %v", err)
	}
	if second.Status != model.StatusActive {
		t.Errorf("status = %s, want active", second.Status)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at not advanced: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}

	if _, err := s.UpsertMonitorStatus(t.Context(), "nope", "ams", model.StatusActive); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown monitor error = %v, want ErrNotFound", err)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	s := storagetest.NewTestStore(t)

	rec := model.NotificationSentRecord("1", model.ProviderSlack, map[string]string{"outcome": "sent"})
	rec.CreatedAt = time.Now().UTC()
	for range 2 {
		if err := s.AppendAudit(t.Context(), rec); err != nil {
			t.Fatalf("AppendAudit() error = %v", err)
		}
	}

	got, err := s.ListAudit(t.Context(), "monitor:1")
	if err != nil {
		t.Fatalf("ListAudit() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2 (audit is append-only)", len(got))
	}
	r := got[0]
	if r.Action != model.ActionNotificationSent || r.Metadata["provider"] != "slack" || r.Metadata["outcome"] != "sent" {
		t.Errorf("record = %+v", r)
	}
	if len(r.Targets) != 1 || r.Targets[0] != (model.AuditTarget{ID: "1", Type: "monitor"}) {
		t.Errorf("targets = %+v", r.Targets)
	}
}

func TestPruneAudit(t *testing.T) {
	s := storagetest.NewTestStore(t)
	now := time.Now().UTC()

	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		rec := model.NotificationSentRecord("1", model.ProviderWebhook, map[string]string{"outcome": "sent"})
		rec.CreatedAt = now.Add(-age)
		if err := s.AppendAudit(t.Context(), rec); err != nil {
			t.Fatalf("AppendAudit() error = %v", err)
		}
	}

	n, err := s.PruneAudit(t.Context(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneAudit() error = %v", err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
	got, err := s.ListAudit(t.Context(), "monitor:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("remaining = %d, want 1", len(got))
	}
}

func TestAuditOrderAndPruneUseTimestamps(t *testing.T) {
	s := storagetest.NewTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)

	write := func(seq string, at time.Time) {
		t.Helper()
		rec := model.NotificationSentRecord("9", model.ProviderWebhook, map[string]string{"seq": seq})
		rec.CreatedAt = at
		if err := s.AppendAudit(t.Context(), rec); err != nil {
			t.Fatalf("AppendAudit(%s) error = %v", seq, err)
		}
	}
	// Inserted out of order, with fractions of differing precision.
	write("c", base.Add(150*time.Millisecond))
	write("b", base.Add(100*time.Millisecond))
	write("a", base)

	got, err := s.ListAudit(t.Context(), "monitor:9")
	if err != nil {
		t.Fatal(err)
	}
	var seqs []string
	for _, r := range got {
		seqs = append(seqs, r.Metadata["seq"])
	}
	if strings.Join(seqs, "") != "abc" {
		t.Fatalf("order = %v, want [a b c]", seqs)
	}
	if !got[1].CreatedAt.Equal(base.Add(100 * time.Millisecond)) {
		t.Errorf("created_at = %v, want %v", got[1].CreatedAt, base.Add(100*time.Millisecond))
	}

	n, err := s.PruneAudit(t.Context(), base.Add(120*time.Millisecond))
	if err != nil {
		t.Fatalf("PruneAudit() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned = %d, want 2 (a and b precede the cutoff)", n)
	}
}

func TestPingAfterClose(t *testing.T) {
	s := storagetest.NewTestStore(t)
	if err := s.Ping(t.Context()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	s.Close()
	if err := s.Ping(t.Context()); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("Ping() after Close error = %v, want ErrStorageUnavailable", err)
	}
}

func TestRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.db")
	s, err := storage.NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", storage.CurrentSchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := storage.NewSQLiteStore(path); err == nil {
		t.Fatal("NewSQLiteStore() on a newer schema error = nil")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := storage.Open("mysql", ""); err == nil {
		t.Fatal("Open(mysql) error = nil, want error")
	}
}
