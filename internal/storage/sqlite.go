package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/makt28/vigil/internal/model"
)

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode and foreign keys, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// SQLite has a single writer. One pooled connection keeps the pragmas below
	// applied and serializes writers in-process instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", currentVersion, CurrentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// dbTime scans the timestamp shapes SQLite hands back: parsed time values for
// DATETIME columns, or the raw text when the driver leaves it unparsed.
type dbTime struct{ time.Time }

var dbTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

// timeLayout is fixed width so that text comparison in SQL orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

type statusRow struct {
	MonitorID string `db:"monitor_id"`
	Region    string `db:"region"`
	Status    string `db:"status"`
	CreatedAt dbTime `db:"created_at"`
	UpdatedAt dbTime `db:"updated_at"`
}

func (r statusRow) toModel() model.MonitorRegionStatus {
	return model.MonitorRegionStatus{
		MonitorID: r.MonitorID,
		Region:    model.Region(r.Region),
		Status:    model.Status(r.Status),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

// UpsertMonitorStatus merges one regional observation. The EXISTS guard makes
// a missing monitor produce no row instead of a constraint error, and the
// conflict clause serializes concurrent writers of the same key.
func (s *SQLiteStore) UpsertMonitorStatus(
	ctx context.Context,
	monitorID string,
	region model.Region,
	status model.Status,
) (model.MonitorRegionStatus, error) {
	const query = `
		INSERT INTO monitor_status (monitor_id, region, status, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM monitors WHERE id = ?)
		ON CONFLICT (monitor_id, region) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING monitor_id, region, status, created_at, updated_at`

	now := formatTime(time.Now())
	var row statusRow
	err := s.db.QueryRowxContext(ctx, query,
		monitorID, string(region), string(status), now, now,
		monitorID,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MonitorRegionStatus{}, fmt.Errorf("monitor %s: %w", monitorID, model.ErrNotFound)
	}
	if err != nil {
		return model.MonitorRegionStatus{}, unavailable("upserting monitor status", err)
	}
	return row.toModel(), nil
}

// ListMonitorStatuses returns every region row of a monitor ordered by region.
func (s *SQLiteStore) ListMonitorStatuses(ctx context.Context, monitorID string) ([]model.MonitorRegionStatus, error) {
	var rows []statusRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT monitor_id, region, status, created_at, updated_at
		FROM monitor_status
		WHERE monitor_id = ?
		ORDER BY region`, monitorID)
	if err != nil {
		return nil, unavailable("listing monitor statuses", err)
	}
	out := make([]model.MonitorRegionStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type monitorRow struct {
	ID          string `db:"id"`
	WorkspaceID string `db:"workspace_id"`
	Name        string `db:"name"`
	Active      bool   `db:"active"`
	Method      string `db:"method"`
	URL         string `db:"url"`
	Periodicity int    `db:"periodicity"`
	Regions     string `db:"regions"`
}

func (r monitorRow) toModel() (model.Monitor, error) {
	m := model.Monitor{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Name:        r.Name,
		Active:      r.Active,
		Method:      r.Method,
		URL:         r.URL,
		Periodicity: r.Periodicity,
	}
	if r.Regions != "" {
		if err := json.Unmarshal([]byte(r.Regions), &m.Regions); err != nil {
			return model.Monitor{}, fmt.Errorf("decoding regions of monitor %s: %w", r.ID, err)
		}
	}
	return m, nil
}

const monitorColumns = `id, workspace_id, name, active, method, url, periodicity, regions`

// GetMonitor returns a monitor by id or model.ErrNotFound.
func (s *SQLiteStore) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	var row monitorRow
	err := s.db.GetContext(ctx, &row, "SELECT "+monitorColumns+" FROM monitors WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("monitor %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("getting monitor", err)
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMonitors returns all monitors ordered by id.
func (s *SQLiteStore) ListMonitors(ctx context.Context) ([]model.Monitor, error) {
	var rows []monitorRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+monitorColumns+" FROM monitors ORDER BY id"); err != nil {
		return nil, unavailable("listing monitors", err)
	}
	out := make([]model.Monitor, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// UpsertMonitor inserts or updates a monitor definition.
func (s *SQLiteStore) UpsertMonitor(ctx context.Context, m model.Monitor) error {
	regions := m.Regions
	if regions == nil {
		regions = []model.Region{}
	}
	regionsJSON, err := json.Marshal(regions)
	if err != nil {
		return fmt.Errorf("marshaling regions for monitor %s: %w", m.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitors (id, workspace_id, name, active, method, url, periodicity, regions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			name = excluded.name,
			active = excluded.active,
			method = excluded.method,
			url = excluded.url,
			periodicity = excluded.periodicity,
			regions = excluded.regions,
			updated_at = CURRENT_TIMESTAMP`,
		m.ID, m.WorkspaceID, m.Name, m.Active, m.Method, m.URL, m.Periodicity, string(regionsJSON),
	)
	if err != nil {
		return fmt.Errorf("upserting monitor %s: %w", m.ID, err)
	}
	return nil
}

// UpsertNotification inserts or updates a notification channel.
func (s *SQLiteStore) UpsertNotification(ctx context.Context, n model.Notification) error {
	data := string(n.Data)
	if data == "" {
		data = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, workspace_id, name, provider, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			name = excluded.name,
			provider = excluded.provider,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP`,
		n.ID, n.WorkspaceID, n.Name, string(n.Provider), data,
	)
	if err != nil {
		return fmt.Errorf("upserting notification %s: %w", n.ID, err)
	}
	return nil
}

// SetSubscriptions replaces a monitor's subscriptions in one transaction.
func (s *SQLiteStore) SetSubscriptions(ctx context.Context, monitorID string, notificationIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications_to_monitors WHERE monitor_id = ?", monitorID); err != nil {
		return fmt.Errorf("clearing subscriptions of monitor %s: %w", monitorID, err)
	}
	for _, nid := range notificationIDs {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO notifications_to_monitors (monitor_id, notification_id) VALUES (?, ?)",
			monitorID, nid,
		)
		if err != nil {
			return fmt.Errorf("subscribing notification %s to monitor %s: %w", nid, monitorID, err)
		}
	}
	return tx.Commit()
}

type subscriptionRow struct {
	MonitorID          string `db:"m_id"`
	MonitorWorkspaceID string `db:"m_workspace_id"`
	MonitorName        string `db:"m_name"`
	MonitorActive      bool   `db:"m_active"`
	MonitorMethod      string `db:"m_method"`
	MonitorURL         string `db:"m_url"`
	MonitorPeriodicity int    `db:"m_periodicity"`
	MonitorRegions     string `db:"m_regions"`
	NotificationID     string `db:"n_id"`
	NotificationWsID   string `db:"n_workspace_id"`
	NotificationName   string `db:"n_name"`
	Provider           string `db:"n_provider"`
	Data               string `db:"n_data"`
}

// ListSubscriptions joins subscriptions to their notification and monitor.
func (s *SQLiteStore) ListSubscriptions(ctx context.Context, monitorID string) ([]model.ResolvedSubscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT
			m.id AS m_id, m.workspace_id AS m_workspace_id, m.name AS m_name,
			m.active AS m_active, m.method AS m_method, m.url AS m_url,
			m.periodicity AS m_periodicity, m.regions AS m_regions,
			n.id AS n_id, n.workspace_id AS n_workspace_id, n.name AS n_name,
			n.provider AS n_provider, n.data AS n_data
		FROM notifications_to_monitors s
		INNER JOIN notifications n ON n.id = s.notification_id
		INNER JOIN monitors m ON m.id = s.monitor_id
		WHERE m.id = ?
		ORDER BY n.id`, monitorID)
	if err != nil {
		return nil, unavailable("listing subscriptions", err)
	}

	out := make([]model.ResolvedSubscription, 0, len(rows))
	for _, r := range rows {
		m, err := monitorRow{
			ID:          r.MonitorID,
			WorkspaceID: r.MonitorWorkspaceID,
			Name:        r.MonitorName,
			Active:      r.MonitorActive,
			Method:      r.MonitorMethod,
			URL:         r.MonitorURL,
			Periodicity: r.MonitorPeriodicity,
			Regions:     r.MonitorRegions,
		}.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, model.ResolvedSubscription{
			Monitor: m,
			Notification: model.Notification{
				ID:          r.NotificationID,
				WorkspaceID: r.NotificationWsID,
				Name:        r.NotificationName,
				Provider:    model.ProviderKind(r.Provider),
				Data:        json.RawMessage(r.Data),
			},
		})
	}
	return out, nil
}

// AppendAudit stores one audit record. Records are never updated.
func (s *SQLiteStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	targets, err := json.Marshal(rec.Targets)
	if err != nil {
		return fmt.Errorf("marshaling audit targets: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling audit metadata: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, subject, action, targets, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.ID, rec.Action, string(targets), string(metadata), formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuditWrite, err)
	}
	return nil
}

// PruneAudit deletes audit records created before cutoff.
func (s *SQLiteStore) PruneAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, unavailable("pruning audit log", err)
	}
	return res.RowsAffected()
}

type auditRow struct {
	Subject   string `db:"subject"`
	Action    string `db:"action"`
	Targets   string `db:"targets"`
	Metadata  string `db:"metadata"`
	CreatedAt dbTime `db:"created_at"`
}

// ListAudit returns the audit records of a subject in insertion order.
func (s *SQLiteStore) ListAudit(ctx context.Context, subject string) ([]model.AuditRecord, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT subject, action, targets, metadata, created_at
		FROM audit_log
		WHERE subject = ?
		ORDER BY created_at, rowid`, subject)
	if err != nil {
		return nil, unavailable("listing audit log", err)
	}

	out := make([]model.AuditRecord, 0, len(rows))
	for _, r := range rows {
		rec := model.AuditRecord{
			ID:        r.Subject,
			Action:    r.Action,
			CreatedAt: r.CreatedAt.Time,
		}
		if err := json.Unmarshal([]byte(r.Targets), &rec.Targets); err != nil {
			return nil, fmt.Errorf("decoding audit targets: %w", err)
		}
		if err := json.Unmarshal([]byte(r.Metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding audit metadata: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
