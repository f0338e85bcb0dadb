package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// DefaultSendGridHost is the SendGrid v3 API host.
const DefaultSendGridHost = "https://api.sendgrid.com"

// SendGridConfig holds SendGrid configuration.
type SendGridConfig struct {
	APIKey   string
	From     string
	FromName string
	Host     string // overridable for tests
}

// SendGridSender implements Sender using the SendGrid v3 mail API.
type SendGridSender struct {
	config    SendGridConfig
	templates *TemplateEngine
}

// NewSendGridSender creates a new SendGrid sender.
func NewSendGridSender(cfg SendGridConfig) *SendGridSender {
	if cfg.Host == "" {
		cfg.Host = DefaultSendGridHost
	}
	return &SendGridSender{config: cfg, templates: NewTemplateEngine()}
}

// IsConfigured returns true when an API key and from address are set.
func (s *SendGridSender) IsConfigured() bool {
	return s.config.APIKey != "" && s.config.From != ""
}

// Send sends one message per recipient.
func (s *SendGridSender) Send(ctx context.Context, msg *Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return ErrInvalidRecipient
	}

	from := mail.NewEmail(s.config.FromName, s.config.From)
	for _, to := range msg.To {
		plain, html := msg.Text, ""
		if msg.IsHTML {
			html = msg.Body
		} else {
			plain = msg.Body
		}
		m := mail.NewSingleEmail(from, msg.Subject, mail.NewEmail("", to), plain, html)

		client := sendgrid.NewSendClient(s.config.APIKey)
		client.BaseURL = s.config.Host + "/v3/mail/send"

		resp, err := client.SendWithContext(ctx, m)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: sendgrid status %d", ErrSendFailed, resp.StatusCode)
		}
	}
	return nil
}

// SendTemplate renders a predefined template and sends it.
func (s *SendGridSender) SendTemplate(ctx context.Context, to string, template Template, data any) error {
	msg, err := renderMessage(s.templates, to, template, data)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}
