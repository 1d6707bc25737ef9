// Package mailer hands composed messages to an outbound relay.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/dkim"
)

// Message is a single outbound HTML email
type Message struct {
	From    string // Empty uses the driver's configured sender
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages. Implementations never retry.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	Driver() string
}

// New builds the sender selected by cfg.Mail.Driver
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Sender, error) {
	switch cfg.Mail.Driver {
	case config.DriverSMTP:
		var signer *dkim.Signer
		if cfg.DKIM.Enabled {
			s, err := dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
			if err != nil {
				return nil, err
			}
			signer = s
			logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
		}
		return NewSMTPSender(cfg.SMTP, signer, logger), nil
	case config.DriverSES:
		return NewSESSender(ctx, cfg.SES, logger)
	default:
		return nil, fmt.Errorf("unknown mail driver: %s", cfg.Mail.Driver)
	}
}
