package model

import "encoding/json"

// ProviderKind identifies a notification delivery channel.
type ProviderKind string

const (
	ProviderEmail     ProviderKind = "email"
	ProviderSlack     ProviderKind = "slack"
	ProviderWebhook   ProviderKind = "webhook"
	ProviderSMS       ProviderKind = "sms"
	ProviderDiscord   ProviderKind = "discord"
	ProviderPagerDuty ProviderKind = "pagerduty"
	ProviderOpsgenie  ProviderKind = "opsgenie"
	ProviderTelegram  ProviderKind = "telegram"
)

// Valid reports whether k is one of the built-in provider kinds.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderEmail, ProviderSlack, ProviderWebhook, ProviderSMS,
		ProviderDiscord, ProviderPagerDuty, ProviderOpsgenie, ProviderTelegram:
		return true
	}
	return false
}

// Notification is a delivery channel owned by a workspace. Data is the
// provider-specific configuration and is only interpreted by the matching sender.
type Notification struct {
	ID          string          `json:"id" db:"id"`
	WorkspaceID string          `json:"workspace_id" db:"workspace_id"`
	Name        string          `json:"name" db:"name"`
	Provider    ProviderKind    `json:"provider" db:"provider"`
	Data        json.RawMessage `json:"data" db:"data"`
}

// ResolvedSubscription is one row of the dispatch fan-out list.
type ResolvedSubscription struct {
	Monitor      Monitor
	Notification Notification
}
