package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/quote-api/internal/config"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPService delivers through a plain SMTP relay.
type SMTPService struct {
	from   string
	dialer dialer
}

func NewSMTPService(cfg config.SMTPConfig, from string) *SMTPService {
	return &SMTPService{
		from:   from,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *SMTPService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email via smtp: %w", err)
	}
	return nil
}
