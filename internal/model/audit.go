package model

import (
	"fmt"
	"time"
)

const ActionNotificationSent = "notification.sent"

// AuditTarget references the entity an audit record is about.
type AuditTarget struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AuditRecord is an immutable entry of an action taken.
type AuditRecord struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Targets   []AuditTarget     `json:"targets"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// NotificationSentRecord builds the record emitted after a send attempt.
func NotificationSentRecord(monitorID string, provider ProviderKind, metadata map[string]string) AuditRecord {
	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["provider"] = string(provider)
	return AuditRecord{
		ID:       fmt.Sprintf("monitor:%s", monitorID),
		Action:   ActionNotificationSent,
		Targets:  []AuditTarget{{ID: monitorID, Type: "monitor"}},
		Metadata: md,
	}
}
