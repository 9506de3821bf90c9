package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the observed health of a monitor in one region.
type Status string

const (
	StatusActive   Status = "active"
	StatusError    Status = "error"
	StatusDegraded Status = "degraded"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusError, StatusDegraded:
		return true
	}
	return false
}

// ParseStatus normalizes s and checks it against the known set.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// MonitorRegionStatus is the merged state for one (monitor, region) key.
type MonitorRegionStatus struct {
	MonitorID string    `json:"monitor_id" db:"monitor_id"`
	Region    Region    `json:"region" db:"region"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
