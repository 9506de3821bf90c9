package notify

import (
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/makt28/vigil/internal/model"
)

// Registry maps a provider kind to its Sender. It is populated at startup and
// read concurrently by the dispatcher.
type Registry struct {
	mu      sync.RWMutex
	senders map[model.ProviderKind]Sender
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.ProviderKind]Sender)}
}

// Register binds kind to s, replacing any previous binding.
func (r *Registry) Register(kind model.ProviderKind, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[kind] = s
}

// Lookup returns the sender for kind or model.ErrUnknownProvider.
func (r *Registry) Lookup(kind model.ProviderKind) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownProvider, kind)
	}
	return s, nil
}

// Kinds lists the registered provider kinds in sorted order.
func (r *Registry) Kinds() []model.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.ProviderKind, 0, len(r.senders))
	for k := range r.senders {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Settings configures the built-in senders.
type Settings struct {
	HTTPTimeout time.Duration
	SMTP        SMTPSettings
	// PagerDutyURL and OpsgenieURL override the vendor API endpoints.
	PagerDutyURL string
	OpsgenieURL  string
}

// NewDefaultRegistry registers a sender for every built-in provider kind.
func NewDefaultRegistry(s Settings) *Registry {
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = 10 * time.Second
	}
	client := &http.Client{Timeout: s.HTTPTimeout}

	r := NewRegistry()
	r.Register(model.ProviderWebhook, SenderFunc((&Webhook{Client: client}).Deliver))
	r.Register(model.ProviderSlack, SenderFunc((&Slack{Client: client}).Deliver))
	r.Register(model.ProviderDiscord, SenderFunc((&Discord{Client: client}).Deliver))
	r.Register(model.ProviderTelegram, SenderFunc((&Telegram{Client: client}).Deliver))
	r.Register(model.ProviderPagerDuty, SenderFunc((&PagerDuty{Client: client, URL: s.PagerDutyURL}).Deliver))
	r.Register(model.ProviderOpsgenie, SenderFunc((&Opsgenie{Client: client, URL: s.OpsgenieURL}).Deliver))
	r.Register(model.ProviderSMS, SenderFunc((&SMS{Client: client}).Deliver))
	r.Register(model.ProviderEmail, SenderFunc((&Email{SMTP: s.SMTP}).Deliver))
	return r
}
