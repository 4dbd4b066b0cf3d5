package models

import (
	"fmt"
	"net/mail"
)

// Credentials is an opaque bearer of send authority for the mail provider.
// The password is expected to be an app password, not an account password.
type Credentials struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the credential shape before it is handed to a transport.
func (c Credentials) Validate() error {
	if c.FullName == "" {
		return fmt.Errorf("full name is required")
	}
	if c.Email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("invalid email address: %w", err)
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// From formats the RFC 5322 From header value for these credentials.
func (c Credentials) From() string {
	if c.FullName == "" {
		return c.Email
	}
	return fmt.Sprintf("%q <%s>", c.FullName, c.Email)
}
