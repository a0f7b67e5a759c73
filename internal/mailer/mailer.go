package mailer

import (
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

type Config struct {
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	From         string `env:"MAIL_FROM" envDefault:"no-reply@portal.local"`
	Simulate     bool   `env:"MAIL_SIMULATE" envDefault:"false"`
}

// Sender sends HTML emails. Implementations may simulate delivery by logging
// the message instead of talking to an SMTP server.
type Sender interface {
	Send(subject, from, htmlBody string, to ...string) error
}

type Mailer struct {
	cfg    Config
	dialer *gomail.Dialer
}

var _ Sender = (*Mailer)(nil)

func New(cfg Config) *Mailer {
	return &Mailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
	}
}

func (m *Mailer) Send(subject, from, htmlBody string, to ...string) error {
	if from == "" {
		from = m.cfg.From
	}

	if m.cfg.Simulate {
		slog.Info("simulated email", "subject", subject, "from", from, "to", to, "body", htmlBody)
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email %q to %v: %w", subject, to, err)
	}
	return nil
}
