package model

import "fmt"

// Intent is the semantic reason for a notification.
type Intent string

const (
	IntentAlert    Intent = "alert"
	IntentRecovery Intent = "recovery"
	IntentDegraded Intent = "degraded"
)

// ParseIntent checks s against the known intents.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentAlert, IntentRecovery, IntentDegraded:
		return i, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidIntent, s)
}

// DispatchOptions carries the optional context of a notification trigger.
type DispatchOptions struct {
	StatusCode *int
	Message    string
	IncidentID string
}
