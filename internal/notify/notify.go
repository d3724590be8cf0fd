// Package notify delivers "your table is ready" messages over SMS and email
// through pluggable providers.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/valayash/qwaitfront/internal/store"

	"go.uber.org/zap"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelBoth  = "both"

	DefaultSMSTemplate     = "Hello {customer_name}, your table at {restaurant_name} is ready! Please proceed to the host stand."
	DefaultSubjectTemplate = "Update from {restaurant_name}"
)

var ErrNoRecipient = errors.New("no recipient")

type Result struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	MessageID string `json:"message_id,omitempty"`
}

type Sender interface {
	SendSMS(ctx context.Context, phone, message string) (Result, error)
	SendEmail(ctx context.Context, recipients []string, subject, body string) error
}

type Notifier struct {
	sms    Provider
	email  Provider
	logger *zap.Logger
}

func NewNotifier(sms, email Provider, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sms == nil {
		sms = noopProvider{}
	}
	if email == nil {
		email = noopProvider{}
	}
	return &Notifier{sms: sms, email: email, logger: logger}
}

func (n *Notifier) SendSMS(ctx context.Context, phone, message string) (Result, error) {
	to := store.FormatE164(phone)
	if to == "" {
		return Result{}, &store.DeliveryError{Channel: ChannelSMS, Err: ErrNoRecipient}
	}
	id, err := n.sms.Send(ctx, Message{Channel: ChannelSMS, Recipient: to, Body: message})
	if err != nil {
		n.logger.Warn("sms delivery failed", zap.String("recipient", to), zap.Error(err))
		return Result{}, &store.DeliveryError{Channel: ChannelSMS, Err: err}
	}
	return Result{Channel: ChannelSMS, Recipient: to, MessageID: id}, nil
}

// SendEmail sends one message per recipient and fails if any of them fails.
func (n *Notifier) SendEmail(ctx context.Context, recipients []string, subject, body string) error {
	sent := 0
	var errs []error
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		if _, err := n.email.Send(ctx, Message{Channel: ChannelEmail, Recipient: recipient, Subject: subject, Body: body}); err != nil {
			n.logger.Warn("email delivery failed", zap.String("recipient", recipient), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if len(errs) > 0 {
		return &store.DeliveryError{Channel: ChannelEmail, Err: errors.Join(errs...)}
	}
	if sent == 0 {
		return &store.DeliveryError{Channel: ChannelEmail, Err: ErrNoRecipient}
	}
	return nil
}

// Render substitutes {key} placeholders with values from vars.
func Render(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}

// ValidChannel reports whether channel is sms, email or both.
func ValidChannel(channel string) bool {
	switch channel {
	case ChannelSMS, ChannelEmail, ChannelBoth:
		return true
	}
	return false
}
