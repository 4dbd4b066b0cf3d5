package mailer

import (
	"fmt"
	"mime"
	"time"
)

// BuildMessage assembles an RFC 5322 message with an HTML body.
func BuildMessage(from, to, subject, html string) string {
	now := time.Now().Format(time.RFC1123Z)
	encodedSubject := mime.QEncoding.Encode("utf-8", subject)

	return fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Date: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n", from, to, encodedSubject, now, html)
}
