package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/makt28/vigil/internal/model"
)

const senderName = "Vigil Monitor"

const (
	colorRed    = 16711680
	colorGreen  = 65280
	colorOrange = 16753920
)

type chatWebhookConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func chatWebhookURL(ev Event) (string, error) {
	cfg, err := decodeData[chatWebhookConfig](ev.Notification)
	if err != nil {
		return "", err
	}
	if cfg.WebhookURL == "" {
		return "", fmt.Errorf("%w: webhook_url is required", model.ErrNotificationConfig)
	}
	return cfg.WebhookURL, nil
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

type discordRequest struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Discord posts an embed to a channel webhook.
type Discord struct {
	Client *http.Client
}

func (d *Discord) Deliver(ctx context.Context, ev Event) error {
	url, err := chatWebhookURL(ev)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}

	color := colorOrange
	switch ev.Intent {
	case model.IntentAlert:
		color = colorRed
	case model.IntentRecovery:
		color = colorGreen
	}

	fields := []discordField{{Name: "Monitor", Value: ev.Monitor.Name, Inline: true}}
	if ev.Monitor.URL != "" {
		fields = append(fields, discordField{Name: "Target", Value: ev.Monitor.URL, Inline: true})
	}
	if ev.StatusCode != nil {
		fields = append(fields, discordField{Name: "Status Code", Value: fmt.Sprint(*ev.StatusCode), Inline: true})
	}
	if ev.IncidentID != "" {
		fields = append(fields, discordField{Name: "Incident", Value: ev.IncidentID})
	}

	payload := discordRequest{
		Username: senderName,
		Embeds: []discordEmbed{{
			Title:       ev.Title(),
			Description: ev.Message,
			Color:       color,
			Fields:      fields,
			Timestamp:   ev.Timestamp.Format(time.RFC3339),
		}},
	}
	if err := postJSON(ctx, d.Client, http.MethodPost, url, nil, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []slackField `json:"fields"`
	Timestamp int64        `json:"ts"`
}

type slackRequest struct {
	Username    string            `json:"username"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

// Slack posts an attachment to an incoming webhook.
type Slack struct {
	Client *http.Client
}

func (s *Slack) Deliver(ctx context.Context, ev Event) error {
	url, err := chatWebhookURL(ev)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}

	color := "warning"
	switch ev.Intent {
	case model.IntentAlert:
		color = "danger"
	case model.IntentRecovery:
		color = "good"
	}

	fields := []slackField{{Title: "Monitor", Value: ev.Monitor.Name, Short: true}}
	if ev.StatusCode != nil {
		fields = append(fields, slackField{Title: "Status Code", Value: fmt.Sprint(*ev.StatusCode), Short: true})
	}
	if ev.IncidentID != "" {
		fields = append(fields, slackField{Title: "Incident", Value: ev.IncidentID})
	}

	payload := slackRequest{
		Username: senderName,
		Text:     fmt.Sprintf("*%s*", ev.Title()),
		Attachments: []slackAttachment{{
			Color:     color,
			Title:     ev.Monitor.URL,
			Text:      ev.Message,
			Fields:    fields,
			Timestamp: ev.Timestamp.Unix(),
		}},
	}
	if err := postJSON(ctx, s.Client, http.MethodPost, url, nil, payload); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}
