package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/makt28/vigil/internal/model"
)

const (
	defaultPagerDutyURL = "https://events.pagerduty.com/v2/enqueue"
	defaultOpsgenieURL  = "https://api.opsgenie.com/v2/alerts"
)

// PagerDuty speaks the Events API v2. Alerts and degraded events trigger,
// recoveries resolve the incident opened under the same dedup key along with
// any degraded incident of the monitor.
type PagerDuty struct {
	Client *http.Client
	URL    string
}

type pagerDutyConfig struct {
	RoutingKey string `json:"routing_key"`
}

type pagerDutyPayload struct {
	Summary  string            `json:"summary"`
	Source   string            `json:"source"`
	Severity string            `json:"severity"`
	Details  map[string]string `json:"custom_details,omitempty"`
}

type pagerDutyEvent struct {
	RoutingKey  string            `json:"routing_key"`
	EventAction string            `json:"event_action"`
	DedupKey    string            `json:"dedup_key"`
	Payload     *pagerDutyPayload `json:"payload,omitempty"`
}

func (p *PagerDuty) Deliver(ctx context.Context, ev Event) error {
	cfg, err := decodeData[pagerDutyConfig](ev.Notification)
	if err != nil {
		return err
	}
	if cfg.RoutingKey == "" {
		return fmt.Errorf("%w: pagerduty: routing_key is required", model.ErrNotificationConfig)
	}

	endpoint := p.URL
	if endpoint == "" {
		endpoint = defaultPagerDutyURL
	}

	if ev.Intent == model.IntentRecovery {
		for _, key := range ev.resolveKeys() {
			body := pagerDutyEvent{RoutingKey: cfg.RoutingKey, EventAction: "resolve", DedupKey: key}
			if err := postJSON(ctx, p.Client, http.MethodPost, endpoint, nil, body); err != nil {
				return fmt.Errorf("pagerduty: resolve %s: %w", key, err)
			}
		}
		return nil
	}

	severity := "critical"
	if ev.Intent == model.IntentDegraded {
		severity = "warning"
	}
	source := ev.Monitor.URL
	if source == "" {
		source = "monitor-" + ev.Monitor.ID
	}
	details := map[string]string{"monitor_id": ev.Monitor.ID}
	if ev.Message != "" {
		details["message"] = ev.Message
	}
	if ev.StatusCode != nil {
		details["status_code"] = fmt.Sprint(*ev.StatusCode)
	}
	body := pagerDutyEvent{
		RoutingKey:  cfg.RoutingKey,
		EventAction: "trigger",
		DedupKey:    ev.dedupKey(),
		Payload: &pagerDutyPayload{
			Summary:  ev.Title(),
			Source:   source,
			Severity: severity,
			Details:  details,
		},
	}
	if err := postJSON(ctx, p.Client, http.MethodPost, endpoint, nil, body); err != nil {
		return fmt.Errorf("pagerduty: %w", err)
	}
	return nil
}

// Opsgenie creates alerts keyed by alias and closes them on recovery.
type Opsgenie struct {
	Client *http.Client
	URL    string
}

type opsgenieConfig struct {
	APIKey string `json:"api_key"`
}

type opsgenieAlert struct {
	Message     string            `json:"message"`
	Alias       string            `json:"alias"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Details     map[string]string `json:"details,omitempty"`
}

func (o *Opsgenie) Deliver(ctx context.Context, ev Event) error {
	cfg, err := decodeData[opsgenieConfig](ev.Notification)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("%w: opsgenie: api_key is required", model.ErrNotificationConfig)
	}

	base := strings.TrimRight(o.URL, "/")
	if base == "" {
		base = defaultOpsgenieURL
	}
	headers := map[string]string{"Authorization": "GenieKey " + cfg.APIKey}

	if ev.Intent == model.IntentRecovery {
		note := map[string]string{"source": senderName, "note": ev.Body()}
		for _, alias := range ev.resolveKeys() {
			endpoint := fmt.Sprintf("%s/%s/close?identifierType=alias", base, url.PathEscape(alias))
			if err := postJSON(ctx, o.Client, http.MethodPost, endpoint, headers, note); err != nil {
				return fmt.Errorf("opsgenie: close %s: %w", alias, err)
			}
		}
		return nil
	}

	priority := "P1"
	if ev.Intent == model.IntentDegraded {
		priority = "P3"
	}
	alert := opsgenieAlert{
		Message:     ev.Title(),
		Alias:       ev.dedupKey(),
		Description: ev.Body(),
		Priority:    priority,
		Details:     map[string]string{"monitor_id": ev.Monitor.ID},
	}
	if err := postJSON(ctx, o.Client, http.MethodPost, base, headers, alert); err != nil {
		return fmt.Errorf("opsgenie: %w", err)
	}
	return nil
}
