package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/makt28/vigil/internal/model"
)

// SMS hands a short text to an HTTP gateway.
type SMS struct {
	Client *http.Client
}

type smsConfig struct {
	GatewayURL string `json:"gateway_url"`
	Token      string `json:"token"`
	To         string `json:"to"`
}

const smsMaxLen = 160

func (s *SMS) Deliver(ctx context.Context, ev Event) error {
	cfg, err := decodeData[smsConfig](ev.Notification)
	if err != nil {
		return err
	}
	if cfg.GatewayURL == "" {
		return fmt.Errorf("%w: sms: gateway_url is required", model.ErrNotificationConfig)
	}
	if cfg.To == "" {
		return fmt.Errorf("%w: sms: to is required", model.ErrNotificationConfig)
	}

	text := ev.Title()
	if ev.Message != "" {
		text += ": " + ev.Message
	}
	if r := []rune(text); len(r) > smsMaxLen {
		text = string(r[:smsMaxLen-3]) + "..."
	}

	var headers map[string]string
	if cfg.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + cfg.Token}
	}
	payload := map[string]string{"to": cfg.To, "body": text}
	if err := postJSON(ctx, s.Client, http.MethodPost, cfg.GatewayURL, headers, payload); err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	return nil
}
