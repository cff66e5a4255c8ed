package mailer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/noah-isme/edunotice/pkg/config"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
)

// Message is one outgoing email.
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
	// Category is the operator label logged with the delivery.
	Category string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type transport interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers through an SMTP relay after applying the recipient policy.
type SMTPSender struct {
	transport transport
	policy    Policy
	from      string
	logger    *zap.Logger
}

// NewSMTPSender builds a sender from SMTP and email settings.
func NewSMTPSender(smtp config.SMTPConfig, email config.EmailConfig, logger *zap.Logger) *SMTPSender {
	dialer := gomail.NewDialer(smtp.Host, smtp.Port, smtp.Username, smtp.Password)
	return newSMTPSender(dialer, email, logger)
}

func newSMTPSender(t transport, email config.EmailConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	from := email.From
	if email.TestMode() && email.TestFrom != "" {
		from = email.TestFrom
	}
	return &SMTPSender{
		transport: t,
		policy:    NewPolicy(email),
		from:      from,
		logger:    logger,
	}
}

// Send applies the recipient policy and hands the message to the relay.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrSend.Code, appErrors.ErrSend.Status, "send cancelled")
	}
	recipients, err := s.policy.Recipients(msg.To)
	if err != nil {
		return err
	}
	if s.from == "" {
		return appErrors.Clone(appErrors.ErrSend, "sender address not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", msg.Subject)
	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}

	if err := s.transport.DialAndSend(m); err != nil {
		s.logger.Warn("email delivery failed",
			zap.String("category", msg.Category),
			zap.Strings("to", recipients),
			zap.Error(err),
		)
		return appErrors.Wrap(err, appErrors.ErrSend.Code, appErrors.ErrSend.Status, fmt.Sprintf("deliver %q", msg.Subject))
	}
	s.logger.Info("email sent",
		zap.String("category", msg.Category),
		zap.String("subject", msg.Subject),
		zap.Int("recipients", len(recipients)),
	)
	return nil
}

// NoopSender accepts every message without delivering it.
type NoopSender struct {
	policy Policy
	logger *zap.Logger
}

// NewNoopSender builds the sender used when delivery is disabled.
func NewNoopSender(email config.EmailConfig, logger *zap.Logger) *NoopSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopSender{policy: NewPolicy(email), logger: logger}
}

// Send validates recipients and drops the message.
func (s *NoopSender) Send(_ context.Context, msg Message) error {
	recipients, err := s.policy.Recipients(msg.To)
	if err != nil {
		return err
	}
	s.logger.Info("email delivery disabled, message dropped",
		zap.String("category", msg.Category),
		zap.String("subject", msg.Subject),
		zap.Strings("to", recipients),
	)
	return nil
}

// New picks the sender matching the email settings.
func New(smtp config.SMTPConfig, email config.EmailConfig, logger *zap.Logger) Sender {
	if email.Disabled {
		return NewNoopSender(email, logger)
	}
	return NewSMTPSender(smtp, email, logger)
}

// Policy normalises recipient lists.
type Policy struct {
	excluded map[string]struct{}
	testTo   string
}

// NewPolicy builds the policy from email settings.
func NewPolicy(email config.EmailConfig) Policy {
	excluded := make(map[string]struct{}, len(email.Excluded))
	for _, addr := range email.Excluded {
		excluded[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}
	return Policy{excluded: excluded, testTo: strings.TrimSpace(email.TestTo)}
}

// Recipients splits comma-joined entries, drops blanks, duplicates and excluded addresses,
// and redirects everything to the test mailbox when one is configured. An empty result is
// a send error.
func (p Policy) Recipients(to []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, entry := range to {
		for _, addr := range strings.Split(entry, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			key := strings.ToLower(addr)
			if _, ok := p.excluded[key]; ok {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	if len(out) == 0 {
		return nil, appErrors.Clone(appErrors.ErrSend, "empty recipient list")
	}
	if p.testTo != "" {
		return []string{p.testTo}, nil
	}
	return out, nil
}
