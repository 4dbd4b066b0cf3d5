package mailer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/sahil00000001/PremiumBulkMail/internal/config"
	"github.com/sahil00000001/PremiumBulkMail/internal/models"
)

func testSMTPConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Host:    "127.0.0.1",
		Port:    1,
		Timeout: 2 * time.Second,
	}
}

func testCreds() models.Credentials {
	return models.Credentials{
		FullName: "Test Sender",
		Email:    "sender@example.com",
		Password: "app-password",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection refused" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil", nil, ""},
		{"bad credentials", &smtp.SMTPError{Code: 535, Message: "5.7.8 Username and Password not accepted"}, FailureAuth},
		{"auth required", &smtp.SMTPError{Code: 530, Message: "5.7.0 Authentication Required"}, FailureAuth},
		{"weak auth mechanism", &smtp.SMTPError{Code: 534, Message: "5.7.9 Please log in with your web browser"}, FailureAuth},
		{"temp auth failure", &smtp.SMTPError{Code: 454, Message: "4.7.0 Temporary authentication failure"}, FailureAuth},
		{"mailbox unavailable", &smtp.SMTPError{Code: 550, Message: "5.1.1 User unknown"}, FailureOther},
		{"rate limited", &smtp.SMTPError{Code: 421, Message: "4.7.0 Try again later"}, FailureOther},
		{"net error", fakeNetError{}, FailureConnection},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, FailureConnection},
		{"deadline", context.DeadlineExceeded, FailureConnection},
		{"canceled", context.Canceled, FailureConnection},
		{"plain error", errors.New("boom"), FailureOther},
		{"pre-classified", &SendError{Class: FailureAuth, Message: "cached"}, FailureAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyWrappedError(t *testing.T) {
	err := &SendError{Class: FailureAuth, Message: "authentication failed: 535 5.7.8 rejected"}
	wrapped := errors.Join(errors.New("send failed"), err)

	if got := Classify(wrapped); got != FailureAuth {
		t.Errorf("Classify(wrapped) = %q, want auth", got)
	}
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage(`"Test Sender" <sender@example.com>`, "rcpt@example.com", "Hello there", "<p>Hi</p>")

	header, body, found := strings.Cut(msg, "\r\n\r\n")
	if !found {
		t.Fatal("no header/body separator")
	}
	for _, want := range []string{
		`From: "Test Sender" <sender@example.com>`,
		"To: rcpt@example.com",
		"Subject: Hello there",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
	} {
		if !strings.Contains(header, want) {
			t.Errorf("header missing %q:\n%s", want, header)
		}
	}
	if !strings.Contains(header, "Date: ") {
		t.Error("header missing Date")
	}
	if strings.TrimSpace(body) != "<p>Hi</p>" {
		t.Errorf("body = %q", body)
	}
}

func TestBuildMessageEncodesSubject(t *testing.T) {
	msg := BuildMessage("a@example.com", "b@example.com", "Grüße aus Köln", "<p>Hi</p>")

	if strings.Contains(msg, "Subject: Grüße") {
		t.Error("non-ASCII subject not encoded")
	}
	if !strings.Contains(msg, "Subject: =?utf-8?q?") {
		t.Errorf("subject not Q-encoded:\n%s", msg)
	}
}

func TestVerifyCachesFailure(t *testing.T) {
	// Port 1 on localhost refuses immediately; both calls must report
	// the same connection-class failure without re-dialing forever.
	tr := NewTransport(testSMTPConfig(), testCreds(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err1 := tr.Verify(ctx)
	if err1 == nil {
		t.Fatal("Verify() expected error against closed port")
	}
	if Classify(err1) != FailureConnection {
		t.Errorf("Classify() = %q, want connection", Classify(err1))
	}

	err2 := tr.Verify(ctx)
	if err2 != err1 {
		t.Error("second Verify() did not return the cached failure")
	}

	if sendErr := tr.Send(ctx, "rcpt@example.com", "s", "<p>b</p>"); sendErr != err1 {
		t.Error("Send() did not refuse with the cached verification failure")
	}
}
