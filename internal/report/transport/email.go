package transport

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/daddykev/stardust-dsp/internal/config"
)

// Email mails the download link rather than the artifact itself; signed URLs
// outlive any attachment size limit.
type Email struct {
	cfg  config.SMTPConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(cfg config.Config) *Email {
	return &Email{cfg: cfg.SMTP, send: smtp.SendMail}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(_ context.Context, a Artifact) error {
	dest := a.Report.DestinationSpec()
	to := strings.TrimSpace(dest.Settings["to"])
	if to == "" {
		return fmt.Errorf("email transport: destination has no recipient")
	}

	subject := fmt.Sprintf("Sales report %s (%s)", a.Report.Period, a.Report.Format)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Your %s report for period %s is ready.\r\n\r\n", a.Report.Type, a.Report.Period)
	fmt.Fprintf(&b, "Download: %s\r\n", a.Report.DownloadURL)
	fmt.Fprintf(&b, "The link expires at %s.\r\n", a.Report.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	if err := e.send(addr, auth, e.cfg.From, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("email transport: %w", err)
	}
	return nil
}
