package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrProviderFailure = errors.New("provider failure")

// Message is one outbound notification to a single recipient.
type Message struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
}

type Provider interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
	Timeout      time.Duration
	RetryCount   int
}

// NewProvider picks a provider by kind. Unknown kinds, and webhook without a
// URL, fall back to logging the message.
func NewProvider(channel string, cfg ProviderConfig, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Kind {
	case "", "stub", "log":
		return logProvider{channel: channel, logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{channel: channel, logger: logger}
		}
		return newWebhookProvider(cfg.WebhookURL, cfg, logger)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(cfg.Kind, cfg, logger)
		}
		return logProvider{channel: channel, logger: logger}
	}
}

type logProvider struct {
	channel string
	logger  *zap.Logger
}

func (p logProvider) Send(ctx context.Context, msg Message) (string, error) {
	p.logger.Info("notification",
		zap.String("channel", p.channel),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return "log-" + uuid.NewString(), nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, msg Message) (string, error) {
	return "", nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, msg Message) (string, error) {
	return "", ErrProviderFailure
}

type webhookResponse struct {
	ID string `json:"id"`
}

type webhookProvider struct {
	url    string
	client *resty.Client
	logger *zap.Logger
}

func newWebhookProvider(url string, cfg ProviderConfig, logger *zap.Logger) webhookProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.WebhookToken != "" {
		client.SetAuthToken(cfg.WebhookToken)
	}
	return webhookProvider{url: url, client: client, logger: logger}
}

func (p webhookProvider) Send(ctx context.Context, msg Message) (string, error) {
	payload := map[string]string{
		"channel":   msg.Channel,
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
		"message":   msg.Body,
	}
	var result webhookResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post(p.url)
	if err != nil {
		return "", fmt.Errorf("webhook %s: %w", msg.Channel, err)
	}
	if resp.IsError() {
		p.logger.Warn("webhook rejected notification",
			zap.String("channel", msg.Channel),
			zap.Int("status_code", resp.StatusCode()),
		)
		return "", fmt.Errorf("webhook %s: status %d: %w", msg.Channel, resp.StatusCode(), ErrProviderFailure)
	}
	return result.ID, nil
}
