package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makt28/vigil/internal/model"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

// captureServer records every request and replies with status.
func captureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedRequest, len(reqs))
		copy(out, reqs)
		return out
	}
}

func testEvent(intent model.Intent, kind model.ProviderKind, data string) Event {
	code := 500
	return Event{
		Intent:       intent,
		Monitor:      model.Monitor{ID: "1", Name: "api", URL: "https://api.example.com"},
		Notification: model.Notification{ID: "n1", Provider: kind, Data: json.RawMessage(data)},
		StatusCode:   &code,
		Message:      "connection refused",
		IncidentID:   "inc-42",
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookDeliver(t *testing.T) {
	srv, requests := captureServer(t, http.StatusOK)
	w := &Webhook{Client: srv.Client()}

	data := `{"url":"` + srv.URL + `/hook","method":"PUT","headers":{"X-Token":"abc"},"remark":"prod"}`
	if err := w.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderWebhook, data)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	r := reqs[0]
	if r.Method != http.MethodPut || r.Path != "/hook" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Header.Get("X-Token") != "abc" {
		t.Errorf("X-Token = %q", r.Header.Get("X-Token"))
	}
	if r.Body["intent"] != "alert" || r.Body["monitor_id"] != "1" || r.Body["incident_id"] != "inc-42" {
		t.Errorf("body = %v", r.Body)
	}
	if r.Body["status_code"] != float64(500) || r.Body["remark"] != "prod" {
		t.Errorf("body = %v", r.Body)
	}
}

func TestWebhookErrors(t *testing.T) {
	srv, _ := captureServer(t, http.StatusInternalServerError)
	w := &Webhook{Client: srv.Client()}

	tests := []struct {
		name      string
		data      string
		configErr bool
	}{
		{"missing url", `{}`, true},
		{"malformed data", `{"url":`, true},
		{"server error", `{"url":"` + srv.URL + `"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderWebhook, tt.data))
			if err == nil {
				t.Fatal("Deliver() error = nil, want error")
			}
			if got := errors.Is(err, model.ErrNotificationConfig); got != tt.configErr {
				t.Errorf("errors.Is(ErrNotificationConfig) = %v, want %v: %v", got, tt.configErr, err)
			}
		})
	}
}

func TestSlackAndDiscordPayloads(t *testing.T) {
	srv, requests := captureServer(t, http.StatusNoContent)
	data := `{"webhook_url":"` + srv.URL + `"}`

	slack := &Slack{Client: srv.Client()}
	if err := slack.Deliver(t.Context(), testEvent(model.IntentRecovery, model.ProviderSlack, data)); err != nil {
		t.Fatalf("slack Deliver() error = %v", err)
	}
	discord := &Discord{Client: srv.Client()}
	if err := discord.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderDiscord, data)); err != nil {
		t.Fatalf("discord Deliver() error = %v", err)
	}

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}

	slackBody := reqs[0].Body
	if !strings.Contains(slackBody["text"].(string), "[UP] api has recovered") {
		t.Errorf("slack text = %v", slackBody["text"])
	}
	att := slackBody["attachments"].([]any)[0].(map[string]any)
	if att["color"] != "good" {
		t.Errorf("slack color = %v, want good", att["color"])
	}

	embed := reqs[1].Body["embeds"].([]any)[0].(map[string]any)
	if embed["color"] != float64(colorRed) {
		t.Errorf("discord color = %v, want red", embed["color"])
	}
	if embed["title"] != "[DOWN] api is failing" {
		t.Errorf("discord title = %v", embed["title"])
	}
}

func TestTelegramDeliver(t *testing.T) {
	srv, requests := captureServer(t, http.StatusOK)
	old := telegramAPIBase
	telegramAPIBase = srv.URL
	t.Cleanup(func() { telegramAPIBase = old })

	tg := &Telegram{Client: srv.Client()}
	data := `{"bot_token":"123:abc","chat_id":"-100"}`
	if err := tg.Deliver(t.Context(), testEvent(model.IntentDegraded, model.ProviderTelegram, data)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	r := requests()[0]
	if r.Path != "/bot123:abc/sendMessage" {
		t.Errorf("path = %s", r.Path)
	}
	if r.Body["chat_id"] != "-100" || r.Body["parse_mode"] != "HTML" {
		t.Errorf("body = %v", r.Body)
	}
	if !strings.Contains(r.Body["text"].(string), "[DEGRADED] api is degraded") {
		t.Errorf("text = %v", r.Body["text"])
	}

	if err := tg.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderTelegram, `{"bot_token":"x"}`)); err == nil {
		t.Error("Deliver() without chat_id error = nil, want error")
	}
}

func TestSendErrorsOmitSecretURLs(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	old := telegramAPIBase
	telegramAPIBase = base
	t.Cleanup(func() { telegramAPIBase = old })

	tg := &Telegram{Client: &http.Client{Timeout: time.Second}}
	err := tg.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderTelegram, `{"bot_token":"123:SECRET-TOKEN","chat_id":"1"}`))
	if err == nil {
		t.Fatal("Deliver() to a closed server error = nil")
	}
	if strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Errorf("telegram error leaks the bot token: %v", err)
	}

	w := &Webhook{Client: &http.Client{Timeout: time.Second}}
	err = w.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderWebhook, `{"url":"`+base+`/hooks/s3cr3t-path"}`))
	if err == nil {
		t.Fatal("webhook Deliver() to a closed server error = nil")
	}
	if strings.Contains(err.Error(), "s3cr3t-path") {
		t.Errorf("webhook error leaks the url: %v", err)
	}
}

func TestPagerDutyTriggerAndResolve(t *testing.T) {
	srv, requests := captureServer(t, http.StatusAccepted)
	pd := &PagerDuty{Client: srv.Client(), URL: srv.URL}
	data := `{"routing_key":"rk"}`

	if err := pd.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderPagerDuty, data)); err != nil {
		t.Fatalf("alert Deliver() error = %v", err)
	}
	if err := pd.Deliver(t.Context(), testEvent(model.IntentRecovery, model.ProviderPagerDuty, data)); err != nil {
		t.Fatalf("recovery Deliver() error = %v", err)
	}
	degraded := testEvent(model.IntentDegraded, model.ProviderPagerDuty, data)
	degraded.IncidentID = ""
	if err := pd.Deliver(t.Context(), degraded); err != nil {
		t.Fatalf("degraded Deliver() error = %v", err)
	}

	reqs := requests()
	if len(reqs) != 4 {
		t.Fatalf("requests = %d, want 4", len(reqs))
	}
	trigger, resolve, resolveDegraded, warn := reqs[0].Body, reqs[1].Body, reqs[2].Body, reqs[3].Body
	if trigger["event_action"] != "trigger" || trigger["dedup_key"] != "inc-42" || trigger["routing_key"] != "rk" {
		t.Errorf("trigger = %v", trigger)
	}
	if sev := trigger["payload"].(map[string]any)["severity"]; sev != "critical" {
		t.Errorf("alert severity = %v", sev)
	}
	if resolve["event_action"] != "resolve" || resolve["dedup_key"] != "inc-42" {
		t.Errorf("resolve = %v", resolve)
	}
	if _, ok := resolve["payload"]; ok {
		t.Errorf("resolve carries a payload: %v", resolve)
	}
	if resolveDegraded["event_action"] != "resolve" || resolveDegraded["dedup_key"] != "monitor-1-degraded" {
		t.Errorf("degraded resolve = %v", resolveDegraded)
	}
	if warn["dedup_key"] != "monitor-1-degraded" {
		t.Errorf("degraded dedup_key = %v", warn["dedup_key"])
	}
	if sev := warn["payload"].(map[string]any)["severity"]; sev != "warning" {
		t.Errorf("degraded severity = %v", sev)
	}
}

func TestOpsgenieCreateAndClose(t *testing.T) {
	srv, requests := captureServer(t, http.StatusAccepted)
	og := &Opsgenie{Client: srv.Client(), URL: srv.URL + "/v2/alerts"}
	data := `{"api_key":"key-1"}`

	if err := og.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderOpsgenie, data)); err != nil {
		t.Fatalf("alert Deliver() error = %v", err)
	}
	if err := og.Deliver(t.Context(), testEvent(model.IntentRecovery, model.ProviderOpsgenie, data)); err != nil {
		t.Fatalf("recovery Deliver() error = %v", err)
	}

	reqs := requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	create, closeReq, closeDegraded := reqs[0], reqs[1], reqs[2]
	if create.Header.Get("Authorization") != "GenieKey key-1" {
		t.Errorf("Authorization = %q", create.Header.Get("Authorization"))
	}
	if create.Path != "/v2/alerts" || create.Body["alias"] != "inc-42" || create.Body["priority"] != "P1" {
		t.Errorf("create = %s %v", create.Path, create.Body)
	}
	if closeReq.Path != "/v2/alerts/inc-42/close" || closeReq.Query != "identifierType=alias" {
		t.Errorf("close = %s?%s", closeReq.Path, closeReq.Query)
	}
	if closeDegraded.Path != "/v2/alerts/monitor-1-degraded/close" {
		t.Errorf("degraded close = %s", closeDegraded.Path)
	}
}

func TestPagerDutyResolvesDegradedIncident(t *testing.T) {
	srv, requests := captureServer(t, http.StatusAccepted)
	pd := &PagerDuty{Client: srv.Client(), URL: srv.URL}
	data := `{"routing_key":"rk"}`

	degraded := testEvent(model.IntentDegraded, model.ProviderPagerDuty, data)
	degraded.IncidentID = ""
	recovery := testEvent(model.IntentRecovery, model.ProviderPagerDuty, data)
	recovery.IncidentID = ""
	for _, ev := range []Event{degraded, recovery} {
		if err := pd.Deliver(t.Context(), ev); err != nil {
			t.Fatalf("%s Deliver() error = %v", ev.Intent, err)
		}
	}

	opened := requests()[0].Body["dedup_key"]
	var resolved []any
	for _, r := range requests()[1:] {
		if r.Body["event_action"] != "resolve" {
			t.Errorf("request = %v, want resolve", r.Body)
		}
		resolved = append(resolved, r.Body["dedup_key"])
	}
	if !slices.Contains(resolved, opened) {
		t.Fatalf("resolved %v, never the degraded key %v", resolved, opened)
	}
}

func TestSMSTruncatesText(t *testing.T) {
	srv, requests := captureServer(t, http.StatusOK)
	s := &SMS{Client: srv.Client()}
	ev := testEvent(model.IntentAlert, model.ProviderSMS, `{"gateway_url":"`+srv.URL+`","to":"+15550100","token":"t"}`)
	ev.Message = strings.Repeat("x", 400)

	if err := s.Deliver(t.Context(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	r := requests()[0]
	if r.Header.Get("Authorization") != "Bearer t" || r.Body["to"] != "+15550100" {
		t.Errorf("request = %v %v", r.Header, r.Body)
	}
	if n := len([]rune(r.Body["body"].(string))); n != smsMaxLen {
		t.Errorf("body length = %d, want %d", n, smsMaxLen)
	}
}

func TestEmailDeliver(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	old := sendMailHook
	sendMailHook = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}
	t.Cleanup(func() { sendMailHook = old })

	e := &Email{SMTP: SMTPSettings{Host: "smtp.example.com", Port: 2525, From: "vigil@example.com"}}
	ev := testEvent(model.IntentAlert, model.ProviderEmail, `{"to":["ops@example.com","dev@example.com"]}`)
	if err := e.Deliver(t.Context(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if gotAddr != "smtp.example.com:2525" || gotFrom != "vigil@example.com" {
		t.Errorf("addr = %s from = %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 2 {
		t.Errorf("recipients = %v", gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{"Subject: [DOWN] api is failing", "ops@example.com", "Status code: 500", "Incident: inc-42"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestEmailRequiresRelayAndRecipients(t *testing.T) {
	e := &Email{}
	if err := e.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderEmail, `{"to":["a@b.c"]}`)); err == nil {
		t.Error("Deliver() without relay error = nil")
	}
	e.SMTP.Host = "smtp.example.com"
	if err := e.Deliver(t.Context(), testEvent(model.IntentAlert, model.ProviderEmail, `{}`)); err == nil {
		t.Error("Deliver() without recipients error = nil")
	}
}
