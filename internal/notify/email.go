package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"

	"github.com/emersion/go-message/mail"

	"github.com/makt28/vigil/internal/model"
)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

// SMTPSettings is the relay shared by every email notification.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Email renders a plain-text message and hands it to the SMTP relay.
type Email struct {
	SMTP SMTPSettings
}

type emailConfig struct {
	To []string `json:"to"`
}

func (e *Email) Deliver(ctx context.Context, ev Event) error {
	cfg, err := decodeData[emailConfig](ev.Notification)
	if err != nil {
		return err
	}
	if len(cfg.To) == 0 {
		return fmt.Errorf("%w: email: at least one recipient is required", model.ErrNotificationConfig)
	}
	if e.SMTP.Host == "" {
		return fmt.Errorf("%w: email: smtp relay is not configured", model.ErrNotificationConfig)
	}

	msg, err := e.compose(ev, cfg.To)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}

	port := e.SMTP.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(e.SMTP.Host, strconv.Itoa(port))
	var auth smtp.Auth
	if e.SMTP.Username != "" {
		auth = smtp.PlainAuth("", e.SMTP.Username, e.SMTP.Password, e.SMTP.Host)
	}

	// net/smtp has no context support; the result is dropped if ctx ends first.
	done := make(chan error, 1)
	go func() {
		done <- sendMailHook(addr, auth, e.from(), cfg.To, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email: %w", ctx.Err())
	}
}

func (e *Email) from() string {
	if e.SMTP.From != "" {
		return e.SMTP.From
	}
	return e.SMTP.Username
}

func (e *Email) compose(ev Event, to []string) ([]byte, error) {
	var h mail.Header
	h.SetDate(ev.Timestamp)
	h.SetSubject(ev.Title())
	h.SetAddressList("From", []*mail.Address{{Name: senderName, Address: e.from()}})
	rcpts := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		rcpts = append(rcpts, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", rcpts)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := io.WriteString(w, ev.Body()+"\n"); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}
