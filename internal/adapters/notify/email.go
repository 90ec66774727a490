package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
)

// EmailConfig holds SMTP settings for one channel
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers notifications over SMTP
type EmailSender struct {
	cfg      EmailConfig
	sendMail sendMailFunc
}

// NewEmailSender creates an SMTP transport
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg, sendMail: smtp.SendMail}
}

// Send implements notifications.Sender
func (s *EmailSender) Send(ctx context.Context, n notifications.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	if err := s.sendMail(addr, auth, s.cfg.From, s.cfg.To, s.compose(n)); err != nil {
		return fmt.Errorf("smtp delivery to %s failed: %w", addr, err)
	}
	return nil
}

func (s *EmailSender) compose(n notifications.Notification) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(n.Severity), sanitizeHeader(n.Title))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	b.WriteString(n.Body)
	b.WriteString("\r\n")
	for _, item := range n.Items {
		fmt.Fprintf(&b, "\r\n- [%s] %s: %s", item.Severity, item.Title, item.Body)
	}
	if n.AlertID != "" {
		fmt.Fprintf(&b, "\r\n\r\nAlert: %s (%s, %s)\r\n", n.AlertID, n.AlertType, n.Source)
	}
	return b.Bytes()
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
