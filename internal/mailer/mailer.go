// Package mailer delivers rendered messages through an authenticated
// SMTP submission endpoint.
package mailer

import (
	"context"
	"errors"
	"net"

	"github.com/emersion/go-smtp"

	"github.com/sahil00000001/PremiumBulkMail/internal/models"
)

// FailureClass buckets delivery failures for progress reporting.
type FailureClass string

const (
	// FailureAuth means the provider rejected the credentials.
	FailureAuth FailureClass = "auth"
	// FailureConnection means the provider could not be reached.
	FailureConnection FailureClass = "connection"
	// FailureOther covers everything else.
	FailureOther FailureClass = "other"
)

// SendError is a classified delivery failure.
type SendError struct {
	Class   FailureClass
	Message string
}

func (e *SendError) Error() string {
	return e.Message
}

// Sender delivers messages on behalf of one set of credentials.
// Implementations cache a successful Verify for their lifetime.
type Sender interface {
	// Verify checks that the provider accepts the credentials. A nil
	// return is cached; later calls are free.
	Verify(ctx context.Context) error
	// Send delivers one HTML message. It refuses to dial when Verify
	// has not succeeded.
	Send(ctx context.Context, to, subject, html string) error
}

// Factory builds a Sender for a set of credentials. The dispatcher
// takes a Factory so tests can substitute a fake transport.
type Factory func(creds models.Credentials) Sender

// Classify maps an error onto a failure class. Auth rejections carry
// the SMTP codes 530, 534, 535 or 454; unreachable or timed-out
// connections class as connection failures.
func Classify(err error) FailureClass {
	if err == nil {
		return ""
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Class
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 454, 530, 534, 535:
			return FailureAuth
		}
		return FailureOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureConnection
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureConnection
	}

	return FailureOther
}
