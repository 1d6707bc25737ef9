package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/dkim"
	"github.com/foxzi/mailtrack/internal/email"
)

// SMTPSender delivers messages through a single configured relay
type SMTPSender struct {
	addr      string
	host      string
	useTLS    bool
	useSSL    bool
	username  string
	password  string
	from      string
	helo      string
	timeout   time.Duration
	tlsConfig *tls.Config
	signer    *dkim.Signer
	logger    *slog.Logger
	now       func() time.Time
}

// NewSMTPSender creates a relay sender. signer may be nil.
func NewSMTPSender(cfg config.SMTPConfig, signer *dkim.Signer, logger *slog.Logger) *SMTPSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	helo := cfg.Helo
	if helo == "" {
		helo = "localhost"
	}
	return &SMTPSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		useTLS:   cfg.UseTLS,
		useSSL:   cfg.UseSSL,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		helo:     helo,
		timeout:  timeout,
		tlsConfig: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
}

// Driver returns the driver name
func (s *SMTPSender) Driver() string {
	return config.DriverSMTP
}

// Send renders, optionally signs, and relays one message
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	to, err := email.ValidateAddress(msg.To)
	if err != nil {
		return permanent(err, "invalid recipient: %v", err)
	}

	from := msg.From
	if from == "" {
		from = s.from
	}
	sender, err := email.ValidateAddress(from)
	if err != nil {
		return permanent(err, "invalid sender: %v", err)
	}

	data := Render(&Message{From: from, To: to, Subject: msg.Subject, HTML: msg.HTML}, s.now())
	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	if err := s.deliver(ctx, sender, to, data); err != nil {
		s.logger.Warn("relay delivery failed", "relay", s.addr, "to", to, "error", err)
		return err
	}

	s.logger.Info("message relayed", "relay", s.addr, "from", sender, "to", to)
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, data []byte) error {
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return &DispatchError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", s.addr, err),
			Err:       err,
		}
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.timeout)
	}
	conn.SetDeadline(deadline)

	// Cancelling ctx aborts a conversation that is already under way
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if s.useSSL {
		tlsConn := tls.Client(conn, s.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return categorizeError(err, "TLS handshake")
		}
		conn = tlsConn
	}

	var client *smtp.Client
	if s.useTLS {
		// The pre-TLS greeting uses "localhost"; the session is re-greeted
		// with the configured name once encrypted
		client, err = smtp.NewClientStartTLS(conn, s.tlsConfig)
		if err != nil {
			if !strings.Contains(err.Error(), "support STARTTLS") {
				return categorizeError(err, "STARTTLS")
			}
			return permanent(err, "relay %s does not support STARTTLS", s.addr)
		}
	} else {
		client = smtp.NewClient(conn)
	}
	defer client.Close()
	client.CommandTimeout = s.timeout
	client.SubmissionTimeout = s.timeout

	if err := client.Hello(s.helo); err != nil {
		return categorizeError(err, "HELO")
	}

	if s.username != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(to, nil); err != nil {
		return categorizeError(err, fmt.Sprintf("RCPT TO %s", to))
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return categorizeError(err, "DATA write")
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()
	return nil
}
