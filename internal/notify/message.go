package notify

import (
	"fmt"
	"strings"

	"github.com/makt28/vigil/internal/model"
)

// Title is a one-line summary of the event.
func (ev Event) Title() string {
	name := ev.Monitor.Name
	if name == "" {
		name = "monitor " + ev.Monitor.ID
	}
	switch ev.Intent {
	case model.IntentAlert:
		return fmt.Sprintf("[DOWN] %s is failing", name)
	case model.IntentRecovery:
		return fmt.Sprintf("[UP] %s has recovered", name)
	case model.IntentDegraded:
		return fmt.Sprintf("[DEGRADED] %s is degraded", name)
	}
	return name
}

// Body renders the details of the event as plain text lines.
func (ev Event) Body() string {
	var b strings.Builder
	if ev.Monitor.URL != "" {
		fmt.Fprintf(&b, "Target: %s\n", ev.Monitor.URL)
	}
	if ev.StatusCode != nil {
		fmt.Fprintf(&b, "Status code: %d\n", *ev.StatusCode)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", ev.Message)
	}
	if ev.IncidentID != "" {
		fmt.Fprintf(&b, "Incident: %s\n", ev.IncidentID)
	}
	fmt.Fprintf(&b, "Time: %s", ev.Timestamp.Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

// dedupKey correlates trigger and resolve calls on incident-aware providers.
func (ev Event) dedupKey() string {
	if ev.IncidentID != "" {
		return ev.IncidentID
	}
	if ev.Intent == model.IntentDegraded {
		return ev.degradedKey()
	}
	return fmt.Sprintf("monitor-%s", ev.Monitor.ID)
}

func (ev Event) degradedKey() string {
	return fmt.Sprintf("monitor-%s-degraded", ev.Monitor.ID)
}

// resolveKeys lists what a recovery closes: its own incident and the
// monitor's degraded incident, which no caller can name by id.
func (ev Event) resolveKeys() []string {
	return []string{ev.dedupKey(), ev.degradedKey()}
}
