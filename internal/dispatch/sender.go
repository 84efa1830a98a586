package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veritashealth/invitegate/pkg/logger"
	"github.com/veritashealth/invitegate/pkg/mail"
)

// Message is an out-of-band notification carrying a one-time code.
type Message struct {
	Phone string
	Body  string
}

// Sender delivers OTP messages to patients. Delivery is fire and forget: the
// activation flow logs failures but never rolls back an issued challenge.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the application log instead of delivering them.
// Default for development and tests.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.WithModule("dispatch")}
}

// Send logs the message destination. The body is deliberately omitted so codes
// never land in production logs.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.Info("otp dispatch (log sender)", zap.String("phone", msg.Phone))
	return nil
}

// GatewaySender delivers messages through an SMS-over-SMTP gateway, addressing
// each message to <phone>@<gateway domain>.
type GatewaySender struct {
	mailer mail.Mailer
	domain string
	from   string
}

// NewGatewaySender constructs a GatewaySender.
func NewGatewaySender(mailer mail.Mailer, domain, from string) (*GatewaySender, error) {
	if mailer == nil {
		return nil, fmt.Errorf("dispatch: mailer is required")
	}
	if domain == "" {
		return nil, fmt.Errorf("dispatch: gateway domain is required")
	}
	return &GatewaySender{mailer: mailer, domain: domain, from: from}, nil
}

// Send relays the message to the SMTP gateway.
func (s *GatewaySender) Send(ctx context.Context, msg Message) error {
	return s.mailer.Send(ctx, mail.Message{
		From:    s.from,
		To:      []string{msg.Phone + "@" + s.domain},
		Subject: "Your verification code",
		Body:    msg.Body,
	})
}
