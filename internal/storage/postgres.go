package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/makt28/vigil/internal/model"
)

type pgMonitor struct {
	ID          string         `gorm:"primaryKey"`
	WorkspaceID string         `gorm:"not null;default:'';index"`
	Name        string         `gorm:"not null"`
	Active      bool           `gorm:"not null"`
	Method      string         `gorm:"not null;default:'http'"`
	URL         string         `gorm:"not null;default:''"`
	Periodicity int            `gorm:"not null;default:60"`
	Regions     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (pgMonitor) TableName() string { return "monitors" }

func (m pgMonitor) toModel() (model.Monitor, error) {
	out := model.Monitor{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Active:      m.Active,
		Method:      m.Method,
		URL:         m.URL,
		Periodicity: m.Periodicity,
	}
	if len(m.Regions) > 0 {
		if err := json.Unmarshal(m.Regions, &out.Regions); err != nil {
			return model.Monitor{}, fmt.Errorf("decoding regions of monitor %s: %w", m.ID, err)
		}
	}
	return out, nil
}

type pgNotification struct {
	ID          string         `gorm:"primaryKey"`
	WorkspaceID string         `gorm:"not null;default:'';index"`
	Name        string         `gorm:"not null;default:''"`
	Provider    string         `gorm:"not null"`
	Data        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (pgNotification) TableName() string { return "notifications" }

type pgSubscription struct {
	MonitorID      string `gorm:"primaryKey"`
	NotificationID string `gorm:"primaryKey;index"`
	CreatedAt      time.Time

	Monitor      pgMonitor      `gorm:"foreignKey:MonitorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Notification pgNotification `gorm:"foreignKey:NotificationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (pgSubscription) TableName() string { return "notifications_to_monitors" }

type pgMonitorStatus struct {
	MonitorID string `gorm:"primaryKey"`
	Region    string `gorm:"primaryKey"`
	Status    string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Monitor pgMonitor `gorm:"foreignKey:MonitorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (pgMonitorStatus) TableName() string { return "monitor_status" }

type pgAuditLog struct {
	EventID   string         `gorm:"primaryKey"`
	Subject   string         `gorm:"not null;index:idx_audit_log_subject,priority:1"`
	Action    string         `gorm:"not null"`
	Targets   datatypes.JSON `gorm:"type:jsonb"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"index:idx_audit_log_subject,priority:2"`
}

func (pgAuditLog) TableName() string { return "audit_log" }

// PostgresStore implements Store on PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}

	models := []interface{}{
		&pgMonitor{},
		&pgNotification{},
		&pgSubscription{},
		&pgMonitorStatus{},
		&pgAuditLog{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("migrating postgres schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertMonitorStatus relies on the composite primary key for conflict
// detection; a missing monitor surfaces as a foreign key violation.
func (s *PostgresStore) UpsertMonitorStatus(
	ctx context.Context,
	monitorID string,
	region model.Region,
	status model.Status,
) (model.MonitorRegionStatus, error) {
	now := time.Now().UTC()
	row := pgMonitorStatus{
		MonitorID: monitorID,
		Region:    string(region),
		Status:    string(status),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).
		Omit("Monitor").
		Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: "monitor_id"}, {Name: "region"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
			},
			clause.Returning{},
		).
		Create(&row).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return model.MonitorRegionStatus{}, fmt.Errorf("monitor %s: %w", monitorID, model.ErrNotFound)
	}
	if err != nil {
		return model.MonitorRegionStatus{}, unavailable("upserting monitor status", err)
	}

	return model.MonitorRegionStatus{
		MonitorID: row.MonitorID,
		Region:    model.Region(row.Region),
		Status:    model.Status(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// ListMonitorStatuses returns every region row of a monitor ordered by region.
func (s *PostgresStore) ListMonitorStatuses(ctx context.Context, monitorID string) ([]model.MonitorRegionStatus, error) {
	var rows []pgMonitorStatus
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("region").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("listing monitor statuses", err)
	}
	out := make([]model.MonitorRegionStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.MonitorRegionStatus{
			MonitorID: r.MonitorID,
			Region:    model.Region(r.Region),
			Status:    model.Status(r.Status),
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

// GetMonitor returns a monitor by id or model.ErrNotFound.
func (s *PostgresStore) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	var row pgMonitor
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
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
func (s *PostgresStore) ListMonitors(ctx context.Context) ([]model.Monitor, error) {
	var rows []pgMonitor
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
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
func (s *PostgresStore) UpsertMonitor(ctx context.Context, m model.Monitor) error {
	regions := m.Regions
	if regions == nil {
		regions = []model.Region{}
	}
	regionsJSON, err := json.Marshal(regions)
	if err != nil {
		return fmt.Errorf("marshaling regions for monitor %s: %w", m.ID, err)
	}

	row := pgMonitor{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Active:      m.Active,
		Method:      m.Method,
		URL:         m.URL,
		Periodicity: m.Periodicity,
		Regions:     datatypes.JSON(regionsJSON),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"workspace_id", "name", "active", "method", "url", "periodicity", "regions", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting monitor %s: %w", m.ID, err)
	}
	return nil
}

// UpsertNotification inserts or updates a notification channel.
func (s *PostgresStore) UpsertNotification(ctx context.Context, n model.Notification) error {
	data := n.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	row := pgNotification{
		ID:          n.ID,
		WorkspaceID: n.WorkspaceID,
		Name:        n.Name,
		Provider:    string(n.Provider),
		Data:        datatypes.JSON(data),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"workspace_id", "name", "provider", "data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting notification %s: %w", n.ID, err)
	}
	return nil
}

// SetSubscriptions replaces a monitor's subscriptions in one transaction.
func (s *PostgresStore) SetSubscriptions(ctx context.Context, monitorID string, notificationIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("monitor_id = ?", monitorID).Delete(&pgSubscription{}).Error; err != nil {
			return fmt.Errorf("clearing subscriptions of monitor %s: %w", monitorID, err)
		}
		for _, nid := range notificationIDs {
			sub := pgSubscription{MonitorID: monitorID, NotificationID: nid}
			err := tx.Omit("Monitor", "Notification").
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&sub).Error
			if err != nil {
				return fmt.Errorf("subscribing notification %s to monitor %s: %w", nid, monitorID, err)
			}
		}
		return nil
	})
}

// ListSubscriptions joins subscriptions to their notification and monitor.
func (s *PostgresStore) ListSubscriptions(ctx context.Context, monitorID string) ([]model.ResolvedSubscription, error) {
	var rows []pgSubscription
	err := s.db.WithContext(ctx).
		Joins("Monitor").
		Joins("Notification").
		Where("notifications_to_monitors.monitor_id = ?", monitorID).
		Order("notifications_to_monitors.notification_id").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("listing subscriptions", err)
	}

	out := make([]model.ResolvedSubscription, 0, len(rows))
	for _, r := range rows {
		m, err := r.Monitor.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, model.ResolvedSubscription{
			Monitor: m,
			Notification: model.Notification{
				ID:          r.Notification.ID,
				WorkspaceID: r.Notification.WorkspaceID,
				Name:        r.Notification.Name,
				Provider:    model.ProviderKind(r.Notification.Provider),
				Data:        json.RawMessage(r.Notification.Data),
			},
		})
	}
	return out, nil
}

// AppendAudit stores one audit record. Records are never updated.
func (s *PostgresStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
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
		createdAt = time.Now().UTC()
	}

	row := pgAuditLog{
		EventID:   uuid.New().String(),
		Subject:   rec.ID,
		Action:    rec.Action,
		Targets:   datatypes.JSON(targets),
		Metadata:  datatypes.JSON(metadata),
		CreatedAt: createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: %v", model.ErrAuditWrite, err)
	}
	return nil
}

// PruneAudit deletes audit records created before cutoff.
func (s *PostgresStore) PruneAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&pgAuditLog{})
	if res.Error != nil {
		return 0, unavailable("pruning audit log", res.Error)
	}
	return res.RowsAffected, nil
}

// ListAudit returns the audit records of a subject in insertion order.
func (s *PostgresStore) ListAudit(ctx context.Context, subject string) ([]model.AuditRecord, error) {
	var rows []pgAuditLog
	err := s.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("listing audit log", err)
	}

	out := make([]model.AuditRecord, 0, len(rows))
	for _, r := range rows {
		rec := model.AuditRecord{ID: r.Subject, Action: r.Action, CreatedAt: r.CreatedAt}
		if err := json.Unmarshal(r.Targets, &rec.Targets); err != nil {
			return nil, fmt.Errorf("decoding audit targets: %w", err)
		}
		if err := json.Unmarshal(r.Metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding audit metadata: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
