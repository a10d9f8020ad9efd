package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/yuin/goldmark"
)

// Message is a notification. Body is Markdown; drivers send it as HTML.
type Message struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func newMailer(cfg MailConfig, log *slog.Logger) (Mailer, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "log":
		return &logMailer{log: log}, nil
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("mail driver smtp needs SMTP_HOST")
		}
		return &smtpMailer{cfg: cfg}, nil
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("mail driver resend needs RESEND_API_KEY")
		}
		return &resendMailer{cfg: cfg, client: http.DefaultClient, endpoint: "https://api.resend.com/emails"}, nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
}

// logMailer writes messages to the log instead of delivering them (dev).
type logMailer struct {
	log *slog.Logger
}

func (m *logMailer) Send(ctx context.Context, msg Message) error {
	m.log.Info("mail (dev)", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

type smtpMailer struct {
	cfg MailConfig
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	html, err := renderHTML(msg.Body)
	if err != nil {
		return err
	}
	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	raw := "From: " + m.cfg.From + "\r\n" +
		"To: " + msg.To + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" +
		html

	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{msg.To}, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

type resendMailer struct {
	cfg      MailConfig
	client   *http.Client
	endpoint string
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *resendMailer) Send(ctx context.Context, msg Message) error {
	html, err := renderHTML(msg.Body)
	if err != nil {
		return err
	}
	body, err := json.Marshal(resendRequest{From: m.cfg.From, To: []string{msg.To}, Subject: msg.Subject, HTML: html})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.ResendAPIKey)
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("resend API error: status %d", resp.StatusCode)
	}
	return nil
}
