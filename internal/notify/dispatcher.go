package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/makt28/vigil/internal/audit"
	"github.com/makt28/vigil/internal/metrics"
	"github.com/makt28/vigil/internal/model"
)

// SubscriptionLister resolves the channels subscribed to a monitor.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, monitorID string) ([]model.ResolvedSubscription, error)
}

// Options tunes delivery. Zero values fall back to defaults.
type Options struct {
	SendTimeout   time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	BackoffJitter time.Duration
	Concurrency   int
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.BackoffJitter < 0 {
		o.BackoffJitter = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Outcome labels used in audit metadata and metrics.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// ChannelResult is the outcome of one subscribed channel.
type ChannelResult struct {
	NotificationID string             `json:"notification_id"`
	Provider       model.ProviderKind `json:"provider"`
	Attempts       int                `json:"attempts"`
	Err            error              `json:"-"`
}

// Outcome is OutcomeSent or OutcomeFailed.
func (r ChannelResult) Outcome() string {
	if r.Err != nil {
		return OutcomeFailed
	}
	return OutcomeSent
}

// DispatchReport lists per-channel results in resolution order.
type DispatchReport struct {
	MonitorID string          `json:"monitor_id"`
	Intent    model.Intent    `json:"intent"`
	Results   []ChannelResult `json:"results"`
}

// Sent counts the channels that delivered.
func (r *DispatchReport) Sent() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts the channels that did not deliver.
func (r *DispatchReport) Failed() int {
	return len(r.Results) - r.Sent()
}

// DispatchError is returned when every resolved channel failed.
type DispatchError struct {
	MonitorID string
	Intent    model.Intent
	Results   []ChannelResult
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		parts = append(parts, fmt.Sprintf("%s/%s: %v", r.Provider, r.NotificationID, r.Err))
	}
	return fmt.Sprintf("%s notification for monitor %s failed on all %d channels: %s",
		e.Intent, e.MonitorID, len(e.Results), strings.Join(parts, "; "))
}

func (e *DispatchError) Unwrap() []error {
	errs := []error{model.ErrProviderSend}
	for _, r := range e.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// Dispatcher fans a notification intent out to every channel subscribed to a
// monitor. A failing channel never prevents delivery on the others.
type Dispatcher struct {
	subs     SubscriptionLister
	registry *Registry
	audit    audit.Sink
	opts     Options
}

// NewDispatcher wires a dispatcher. A nil sink disables auditing.
func NewDispatcher(subs SubscriptionLister, registry *Registry, sink audit.Sink, opts Options) *Dispatcher {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Dispatcher{
		subs:     subs,
		registry: registry,
		audit:    sink,
		opts:     opts.withDefaults(),
	}
}

// Dispatch resolves the subscriptions of monitorID and sends intent on each.
// It returns nil error on partial success and a *DispatchError when every
// channel failed. Zero subscriptions is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, monitorID string, intent model.Intent, opts model.DispatchOptions) (*DispatchReport, error) {
	if _, err := model.ParseIntent(string(intent)); err != nil {
		return nil, err
	}
	slog.Info("dispatching notifications", "monitor_id", monitorID, "intent", intent)

	subs, err := d.subs.ListSubscriptions(ctx, monitorID)
	if err != nil {
		return nil, fmt.Errorf("resolve subscriptions for monitor %s: %w", monitorID, err)
	}

	report := &DispatchReport{
		MonitorID: monitorID,
		Intent:    intent,
		Results:   make([]ChannelResult, len(subs)),
	}
	if len(subs) == 0 {
		slog.Debug("monitor has no subscriptions, skipping notification", "monitor_id", monitorID)
		return report, nil
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			report.Results[i] = d.deliver(ctx, sub, intent, opts)
			return nil
		})
	}
	_ = g.Wait()

	if report.Sent() == 0 {
		return report, &DispatchError{MonitorID: monitorID, Intent: intent, Results: report.Results}
	}
	return report, nil
}

// deliver sends on one channel and records the attempt.
func (d *Dispatcher) deliver(ctx context.Context, sub model.ResolvedSubscription, intent model.Intent, opts model.DispatchOptions) ChannelResult {
	n := sub.Notification
	res := ChannelResult{NotificationID: n.ID, Provider: n.Provider}

	start := time.Now()
	sender, err := d.registry.Lookup(n.Provider)
	if err != nil {
		res.Err = err
	} else {
		policy := retryPolicy{
			maxAttempts: d.opts.MaxAttempts,
			baseBackoff: d.opts.BaseBackoff,
			jitter:      d.opts.BackoffJitter,
			timeout:     d.opts.SendTimeout,
		}
		name := string(n.Provider) + "/" + n.ID
		res.Attempts, err = sendWithRetries(ctx, policy, name, func(ctx context.Context) error {
			return send(ctx, sender, intent, sub.Monitor, n, opts)
		})
		if err != nil {
			res.Err = fmt.Errorf("%w: %s after %d attempts: %w", model.ErrProviderSend, name, res.Attempts, err)
		}
		metrics.SendDuration.WithLabelValues(string(n.Provider)).Observe(time.Since(start).Seconds())
	}

	outcome := res.Outcome()
	metrics.NotificationsSent.WithLabelValues(string(n.Provider), string(intent), outcome).Inc()
	if res.Err != nil {
		slog.Error("notification send failed",
			"provider", n.Provider,
			"notification_id", n.ID,
			"monitor_id", sub.Monitor.ID,
			"intent", intent,
			"error", res.Err,
		)
	} else {
		slog.Info("notification sent",
			"provider", n.Provider,
			"notification_id", n.ID,
			"monitor_id", sub.Monitor.ID,
			"intent", intent,
			"attempts", res.Attempts,
		)
	}

	d.record(ctx, sub.Monitor.ID, n, intent, res)
	return res
}

func send(ctx context.Context, s Sender, intent model.Intent, m model.Monitor, n model.Notification, opts model.DispatchOptions) error {
	switch intent {
	case model.IntentAlert:
		return s.SendAlert(ctx, m, n, opts.StatusCode, opts.Message, opts.IncidentID)
	case model.IntentRecovery:
		return s.SendRecovery(ctx, m, n, opts.StatusCode, opts.Message, opts.IncidentID)
	case model.IntentDegraded:
		return s.SendDegraded(ctx, m, n, opts.StatusCode, opts.Message)
	}
	return fmt.Errorf("%w: %q", model.ErrInvalidIntent, intent)
}

// record publishes the audit entry for one attempt. Failures are logged only.
func (d *Dispatcher) record(ctx context.Context, monitorID string, n model.Notification, intent model.Intent, res ChannelResult) {
	md := map[string]string{
		"intent":          string(intent),
		"notification_id": n.ID,
		"outcome":         res.Outcome(),
	}
	if res.Err != nil {
		md["error"] = res.Err.Error()
	}
	rec := model.NotificationSentRecord(monitorID, n.Provider, md)
	rec.CreatedAt = time.Now().UTC()

	if err := d.audit.Publish(context.WithoutCancel(ctx), rec); err != nil {
		if !errors.Is(err, model.ErrAuditWrite) {
			err = fmt.Errorf("%w: %w", model.ErrAuditWrite, err)
		}
		metrics.AuditFailures.WithLabelValues("publish").Inc()
		slog.Warn("audit publish failed",
			"monitor_id", monitorID,
			"notification_id", n.ID,
			"error", err,
		)
	}
}
