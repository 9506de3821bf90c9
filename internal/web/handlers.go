package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/notify"
)

const maxBodyBytes = 64 << 10

// StatusService records and reads regional monitor status.
type StatusService interface {
	UpsertStatus(ctx context.Context, monitorID string, region model.Region, status model.Status) error
	Statuses(ctx context.Context, monitorID string) ([]model.MonitorRegionStatus, error)
}

// DispatchService fans a notification intent out to a monitor's subscribers.
type DispatchService interface {
	Dispatch(ctx context.Context, monitorID string, intent model.Intent, opts model.DispatchOptions) (*notify.DispatchReport, error)
}

// Handlers serves the JSON API.
type Handlers struct {
	cfgMgr     ConfigSource
	statuses   StatusService
	dispatcher DispatchService
	registry   *notify.Registry
}

func NewHandlers(cfgMgr ConfigSource, statuses StatusService, dispatcher DispatchService, registry *notify.Registry) *Handlers {
	return &Handlers{
		cfgMgr:     cfgMgr,
		statuses:   statuses,
		dispatcher: dispatcher,
		registry:   registry,
	}
}

type checkRequest struct {
	MonitorID string `json:"monitorId"`
	Region    string `json:"region"`
	Status    string `json:"status"`
}

type triggerRequest struct {
	MonitorID  string `json:"monitorId"`
	StatusCode *int   `json:"statusCode,omitempty"`
	Message    string `json:"message,omitempty"`
	NotifType  string `json:"notifType"`
	IncidentID string `json:"incidentId,omitempty"`
}

type channelResponse struct {
	NotificationID string             `json:"notification_id"`
	Provider       model.ProviderKind `json:"provider"`
	Outcome        string             `json:"outcome"`
	Attempts       int                `json:"attempts"`
	Error          string             `json:"error,omitempty"`
}

type dispatchResponse struct {
	MonitorID string            `json:"monitor_id"`
	Intent    model.Intent      `json:"intent"`
	Sent      int               `json:"sent"`
	Failed    int               `json:"failed"`
	Results   []channelResponse `json:"results"`
}

func newDispatchResponse(monitorID string, intent model.Intent, results []notify.ChannelResult) dispatchResponse {
	resp := dispatchResponse{
		MonitorID: monitorID,
		Intent:    intent,
		Results:   make([]channelResponse, 0, len(results)),
	}
	for _, r := range results {
		cr := channelResponse{
			NotificationID: r.NotificationID,
			Provider:       r.Provider,
			Outcome:        r.Outcome(),
			Attempts:       r.Attempts,
		}
		if r.Err != nil {
			cr.Error = r.Err.Error()
			resp.Failed++
		} else {
			resp.Sent++
		}
		resp.Results = append(resp.Results, cr)
	}
	return resp
}

// IngestCheck records a regional check result. The region in the body must
// match the region the caller's token was issued for.
func (h *Handlers) IngestCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	region, err := model.ParseRegion(req.Region)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if tokenRegion, ok := regionFromContext(r.Context()); !ok || tokenRegion != region {
		respondError(w, "token is not valid for region "+string(region), http.StatusForbidden)
		return
	}

	if err := h.statuses.UpsertStatus(r.Context(), req.MonitorID, region, status); err != nil {
		respondServiceError(w, "upsert status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerNotification dispatches an intent to every subscriber of a monitor.
// A partial failure is still a 200; the per-channel outcome is in the body.
func (h *Handlers) TriggerNotification(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.MonitorID == "" {
		respondError(w, "monitorId is required", http.StatusBadRequest)
		return
	}
	intent, err := model.ParseIntent(req.NotifType)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := model.DispatchOptions{
		StatusCode: req.StatusCode,
		Message:    req.Message,
		IncidentID: req.IncidentID,
	}
	// A client that hangs up must not cancel deliveries already under way.
	report, err := h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), req.MonitorID, intent, opts)
	if err != nil {
		var de *notify.DispatchError
		if errors.As(err, &de) {
			respondJSON(w, http.StatusBadGateway, newDispatchResponse(de.MonitorID, de.Intent, de.Results))
			return
		}
		respondServiceError(w, "dispatch", err)
		return
	}
	respondJSON(w, http.StatusOK, newDispatchResponse(report.MonitorID, report.Intent, report.Results))
}

// MonitorStatus returns the latest status of a monitor in every region that
// has reported it.
func (h *Handlers) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := h.statuses.Statuses(r.Context(), id)
	if err != nil {
		respondServiceError(w, "list statuses", err)
		return
	}
	if rows == nil {
		rows = []model.MonitorRegionStatus{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"monitor_id": id,
		"regions":    rows,
	})
}

// TestNotifier sends a sample alert through one configured notifier without
// touching subscriptions or the audit log.
func (h *Handlers) TestNotifier(w http.ResponseWriter, r *http.Request) {
	nID := chi.URLParam(r, "id")
	cfg := h.cfgMgr.Get()

	catalog, err := cfg.Catalog()
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var n *model.Notification
	for i := range catalog.Notifications {
		if catalog.Notifications[i].ID == nID {
			n = &catalog.Notifications[i]
			break
		}
	}
	if n == nil {
		respondError(w, "notifier not found", http.StatusNotFound)
		return
	}

	sender, err := h.registry.Lookup(n.Provider)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	monitor := model.Monitor{
		ID:          "test",
		WorkspaceID: n.WorkspaceID,
		Name:        "Test",
		Active:      true,
		Method:      "http",
		URL:         "https://example.com",
	}
	ctx, cancel := context.WithTimeout(r.Context(), cfg.Dispatch.SendTimeout)
	defer cancel()

	if err := sender.SendAlert(ctx, monitor, *n, nil, "This is a test notification from Vigil.", "test"); err != nil {
		slog.Warn("test notification failed", "notifier", nID, "provider", n.Provider, "error", err)
		respondJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	slog.Info("test notification sent", "notifier", nID, "provider", n.Provider)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// respondServiceError maps sentinel errors from the status and dispatch paths
// to HTTP codes.
func respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidRegion),
		errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrInvalidIntent):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		respondError(w, "monitor not found", http.StatusNotFound)
	case errors.Is(err, model.ErrStorageUnavailable):
		slog.Error(op+" failed", "error", err)
		respondError(w, "storage unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondError(w, "request timed out", http.StatusGatewayTimeout)
	default:
		slog.Error(op+" failed", "error", err)
		respondError(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, msg string, status int) {
	respondJSON(w, status, map[string]any{"ok": false, "error": msg})
}
