package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/makt28/vigil/internal/model"
)

var telegramAPIBase = "https://api.telegram.org"

// Telegram sends messages through the Bot API.
type Telegram struct {
	Client *http.Client
}

type telegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Remark   string `json:"remark"`
}

func (t *Telegram) Deliver(ctx context.Context, ev Event) error {
	cfg, err := decodeData[telegramConfig](ev.Notification)
	if err != nil {
		return err
	}
	if cfg.BotToken == "" {
		return fmt.Errorf("%w: telegram: bot_token is required", model.ErrNotificationConfig)
	}
	if cfg.ChatID == "" {
		return fmt.Errorf("%w: telegram: chat_id is required", model.ErrNotificationConfig)
	}

	payload := map[string]string{
		"chat_id":    cfg.ChatID,
		"text":       formatTelegramMessage(ev, cfg.Remark),
		"parse_mode": "HTML",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, cfg.BotToken)
	if err := postJSON(ctx, t.Client, http.MethodPost, url, nil, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func formatTelegramMessage(ev Event, remark string) string {
	var icon string
	switch ev.Intent {
	case model.IntentAlert:
		icon = "🔴"
	case model.IntentRecovery:
		icon = "🟢"
	default:
		icon = "🟡"
	}

	var msg string
	if remark != "" {
		msg = fmt.Sprintf("📌 <b>[%s]</b>\n", html.EscapeString(remark))
	}
	msg += fmt.Sprintf("%s <b>%s</b>\n%s", icon, html.EscapeString(ev.Title()), html.EscapeString(ev.Body()))
	return msg
}
