package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/sahil00000001/PremiumBulkMail/internal/config"
	"github.com/sahil00000001/PremiumBulkMail/internal/models"
)

// Transport is a Sender over implicit-TLS SMTP submission (port 465
// style). Verification is attempted once; a success is cached, a
// failure is remembered and returned by every subsequent Send.
type Transport struct {
	host    string
	port    int
	timeout time.Duration
	creds   models.Credentials
	logger  *slog.Logger

	mu        sync.Mutex
	verified  bool
	verifyErr error
}

// NewTransport creates a Transport for one set of credentials.
func NewTransport(cfg config.SMTPConfig, creds models.Credentials, logger *slog.Logger) *Transport {
	return &Transport{
		host:    cfg.Host,
		port:    cfg.Port,
		timeout: cfg.Timeout,
		creds:   creds,
		logger:  logger.With("component", "mailer", "sender", creds.Email),
	}
}

// NewFactory returns a Factory producing real transports against the
// configured provider.
func NewFactory(cfg config.SMTPConfig, logger *slog.Logger) Factory {
	return func(creds models.Credentials) Sender {
		return NewTransport(cfg, creds, logger)
	}
}

// Verify dials the provider and authenticates. The first success is
// cached for the lifetime of the transport; the first failure is
// cached too, so a batch with bad credentials fails fast instead of
// re-dialing per recipient.
func (t *Transport) Verify(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.verified {
		return nil
	}
	if t.verifyErr != nil {
		return t.verifyErr
	}

	client, err := t.dial(ctx)
	if err != nil {
		t.verifyErr = t.wrapDial("connection check failed", err)
		t.logger.Warn("smtp verification failed", "error", err)
		return t.verifyErr
	}
	defer client.Close()

	if err := t.auth(client); err != nil {
		t.verifyErr = t.wrap("authentication failed", err)
		t.logger.Warn("smtp authentication failed", "error", err)
		return t.verifyErr
	}
	client.Quit()

	t.verified = true
	t.logger.Info("smtp connection verified")
	return nil
}

// Send delivers one HTML message. Verification must have succeeded.
func (t *Transport) Send(ctx context.Context, to, subject, html string) error {
	if err := t.Verify(ctx); err != nil {
		return err
	}

	client, err := t.dial(ctx)
	if err != nil {
		return t.wrapDial("connection failed", err)
	}
	defer client.Close()

	if err := t.auth(client); err != nil {
		return t.wrap("authentication failed", err)
	}

	msg := BuildMessage(t.creds.From(), to, subject, html)
	if err := client.SendMail(t.creds.Email, []string{to}, strings.NewReader(msg)); err != nil {
		return t.wrap(fmt.Sprintf("delivery to %s failed", to), err)
	}
	client.Quit()

	t.logger.Debug("message delivered", "to", to)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: t.timeout},
		Config:    &tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(t.timeout))
	}

	return smtp.NewClient(conn), nil
}

func (t *Transport) auth(client *smtp.Client) error {
	return client.Auth(sasl.NewPlainClient("", t.creds.Email, t.creds.Password))
}

func (t *Transport) wrap(stage string, err error) *SendError {
	return &SendError{
		Class:   Classify(err),
		Message: fmt.Sprintf("%s: %v", stage, err),
	}
}

// wrapDial forces anything that went wrong while reaching the provider
// into the connection class. TLS handshake failures are not net.Errors
// but are still reachability problems.
func (t *Transport) wrapDial(stage string, err error) *SendError {
	class := Classify(err)
	if class == FailureOther {
		class = FailureConnection
	}
	return &SendError{
		Class:   class,
		Message: fmt.Sprintf("%s: %v", stage, err),
	}
}
