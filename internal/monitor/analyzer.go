package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/makt28/vigil/internal/config"
	"github.com/makt28/vigil/internal/metrics"
	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/notify"
)

// StatusWriter records a regional observation.
type StatusWriter interface {
	UpsertStatus(ctx context.Context, monitorID string, region model.Region, status model.Status) error
}

// Dispatcher sends a notification intent to a monitor's subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, monitorID string, intent model.Intent, opts model.DispatchOptions) (*notify.DispatchReport, error)
}

// monitorState tracks the runtime state for flapping control.
type monitorState struct {
	status        model.Status
	failCount     int
	reminderCount int // failures since last alert (used after DOWN)
	incidentID    string
}

// AnalyzeResult is returned to the scheduler to allow dynamic interval switching.
type AnalyzeResult struct {
	IsFailing bool // true if probe failed (regardless of UP/DOWN state)
}

// notification is a pending dispatch decided under the analyzer lock and
// sent after it is released.
type notification struct {
	intent model.Intent
	opts   model.DispatchOptions
}

// Analyzer processes probe results, implements flapping control, and triggers notifications.
type Analyzer struct {
	region     model.Region
	statuses   StatusWriter
	dispatcher Dispatcher

	mu     sync.Mutex
	states map[string]*monitorState
}

// NewAnalyzer creates an Analyzer reporting observations as region.
func NewAnalyzer(region model.Region, statuses StatusWriter, dispatcher Dispatcher) *Analyzer {
	return &Analyzer{
		region:     region,
		statuses:   statuses,
		dispatcher: dispatcher,
		states:     make(map[string]*monitorState),
	}
}

// Process records the observation and dispatches notifications on state
// transitions: alert on the first confirmed failure, recovery when a failure
// or degradation clears, degraded when a healthy monitor slows down.
func (a *Analyzer) Process(ctx context.Context, m config.Monitor, result ProbeResult) AnalyzeResult {
	metrics.Probes.WithLabelValues(string(a.region), string(result.Status)).Inc()

	if err := a.statuses.UpsertStatus(ctx, m.ID, a.region, result.Status); err != nil {
		level := slog.LevelError
		if errors.Is(err, model.ErrNotFound) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "failed to record monitor status",
			"id", m.ID,
			"region", a.region,
			"status", result.Status,
			"error", err,
		)
	}

	pending := a.transition(m, result)
	for _, n := range pending {
		a.dispatch(ctx, m, n)
	}
	return AnalyzeResult{IsFailing: !result.Up()}
}

func (a *Analyzer) transition(m config.Monitor, result ProbeResult) []notification {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.ensureState(m.ID)
	opts := model.DispatchOptions{StatusCode: result.StatusCode, Message: result.Error}

	if result.Up() {
		// --- Success path ---
		var out []notification
		state.failCount = 0
		state.reminderCount = 0

		switch {
		case state.status == model.StatusError:
			slog.Info("monitor recovered", "id", m.ID, "name", m.Name)
			rec := opts
			rec.IncidentID = state.incidentID
			out = append(out, notification{intent: model.IntentRecovery, opts: rec})
			state.incidentID = ""
		case state.status == model.StatusDegraded && result.Status == model.StatusActive:
			// Closes the incident the degraded notification opened.
			slog.Info("monitor no longer degraded", "id", m.ID, "name", m.Name)
			out = append(out, notification{intent: model.IntentRecovery, opts: opts})
		}
		if result.Status == model.StatusDegraded && state.status != model.StatusDegraded {
			slog.Warn("monitor is DEGRADED", "id", m.ID, "name", m.Name, "reason", result.Error)
			out = append(out, notification{intent: model.IntentDegraded, opts: opts})
		}
		state.status = result.Status
		return out
	}

	// --- Failure path ---
	state.failCount++
	maxRetries := max(m.MaxRetries, 1)

	slog.Debug("probe failed",
		"id", m.ID,
		"name", m.Name,
		"fail_count", state.failCount,
		"max_retries", maxRetries,
		"error", result.Error,
	)

	if state.status != model.StatusError && state.failCount >= maxRetries {
		// Transition: UP -> DOWN (initial alert)
		state.status = model.StatusError
		state.reminderCount = 0
		state.incidentID = uuid.NewString()

		slog.Warn("monitor is DOWN", "id", m.ID, "name", m.Name, "reason", result.Error, "incident_id", state.incidentID)
		opts.IncidentID = state.incidentID
		return []notification{{intent: model.IntentAlert, opts: opts}}
	}
	if state.status == model.StatusError && m.ReminderInterval > 0 {
		// Already DOWN: check if we should resend alert
		state.reminderCount++
		if state.reminderCount >= m.ReminderInterval {
			state.reminderCount = 0

			slog.Warn("monitor still DOWN (reminder)", "id", m.ID, "name", m.Name)
			opts.IncidentID = state.incidentID
			return []notification{{intent: model.IntentAlert, opts: opts}}
		}
	}
	return nil
}

func (a *Analyzer) dispatch(ctx context.Context, m config.Monitor, n notification) {
	report, err := a.dispatcher.Dispatch(ctx, m.ID, n.intent, n.opts)
	if err != nil {
		slog.Error("notification dispatch failed",
			"id", m.ID,
			"intent", n.intent,
			"error", err,
		)
		return
	}
	slog.Debug("notification dispatched",
		"id", m.ID,
		"intent", n.intent,
		"sent", report.Sent(),
		"failed", report.Failed(),
	)
}

// RemoveState cleans up state for a removed monitor.
func (a *Analyzer) RemoveState(monitorID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, monitorID)
}

func (a *Analyzer) ensureState(id string) *monitorState {
	s, ok := a.states[id]
	if !ok {
		s = &monitorState{status: model.StatusActive}
		a.states[id] = s
	}
	return s
}
