package mail

import (
	"context"

	"github.com/trailhead-tours/apiserver/config"
	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages. Delivery may fail; callers own the
// consequences.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer delivers mail over SMTP.
type SMTPMailer struct {
	client *gomail.Client
	from   string
}

// NewSMTPMailer constructs an SMTP mailer from config.
func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// Send delivers the message synchronously.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	message := gomail.NewMsg()
	if err := message.From(m.from); err != nil {
		return err
	}
	if err := message.To(msg.To); err != nil {
		return err
	}
	message.Subject(msg.Subject)
	message.SetBodyString(gomail.TypeTextPlain, msg.Body)

	return m.client.DialAndSendWithContext(ctx, message)
}

// LogMailer writes messages to the log instead of sending them. Used in
// development when no SMTP relay is available.
type LogMailer struct {
	logger *zap.SugaredLogger
}

func NewLogMailer(logger *zap.SugaredLogger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Infow("mail (not sent)", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}
