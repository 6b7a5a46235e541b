package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"ibkrTax/internal/ports"
)

const defaultSendTimeout = 20 * time.Second

// mailClient is the slice of the mailgun client the notifier uses.
type mailClient interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(ctx context.Context, message *mailgun.Message) (string, string, error)
}

// MailgunNotifier delivers run summaries by email through the Mailgun API.
// It implements the ports.Notifier interface.
type MailgunNotifier struct {
	mg         mailClient
	sender     string
	recipients []string
	timeout    time.Duration
	logger     ports.Logger
}

// MailgunConfig holds the configuration for creating a MailgunNotifier.
type MailgunConfig struct {
	Domain     string   // Mailgun sending domain
	APIKey     string   // Mailgun private API key
	Sender     string   // From address
	Recipients []string // To addresses
	Timeout    time.Duration
	Logger     ports.Logger
}

// NewMailgun creates a new Mailgun-backed notifier.
func NewMailgun(cfg MailgunConfig) (*MailgunNotifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for mailgun notifier")
	}
	if cfg.Domain == "" || cfg.APIKey == "" || cfg.Sender == "" || len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("mailgun notifier failed: %w: domain, api key, sender and recipients are all required",
			ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &MailgunNotifier{
		mg:         mailgun.NewMailgun(cfg.Domain, cfg.APIKey),
		sender:     cfg.Sender,
		recipients: cfg.Recipients,
		timeout:    timeout,
		logger:     cfg.Logger,
	}, nil
}

// Send delivers one plain-text message to every configured recipient.
func (n *MailgunNotifier) Send(ctx context.Context, subject, body string) error {
	op := "Send"

	message := n.mg.NewMessage(n.sender, subject, body, n.recipients...)
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("%s failed: %w: response %q", op, err, resp)
	}
	n.logger.Info(ctx, "Notification email sent", map[string]interface{}{
		"subject":    subject,
		"recipients": len(n.recipients),
		"messageID":  id,
	})
	return nil
}
