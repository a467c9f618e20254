// Package mail delivers composed campaign messages through a mail provider.
package mail

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

// Message is one fully rendered e-mail.
type Message struct {
	From        string
	To          string
	Subject     string
	HTML        string
	Attachments []model.Attachment
}

// Transport authenticates a sender against a provider.
type Transport interface {
	// Connect verifies the credential. A rejected credential yields an
	// AuthenticationError, an unreachable provider a FatalTransportError.
	Connect(ctx context.Context, sender, credential string) (Client, error)
}

// Client is an authenticated provider handle that hands out sessions.
type Client interface {
	// Session opens one connection. Callers hold at most one per worker.
	Session(ctx context.Context) (Session, error)
	Close() error
}

// Session sends messages over a single connection. Send returns nil on
// success or an error that appErrors.Classify understands.
type Session interface {
	Send(ctx context.Context, msg *Message) error
	Close() error
}

var addressPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateAddress checks a bare e-mail address locally, before any network
// I/O. Failures are InvalidRecipientErrors.
func ValidateAddress(email string) error {
	email = strings.TrimSpace(email)
	if !addressPattern.MatchString(email) {
		return appErrors.NewInvalidRecipient(email, fmt.Errorf("malformed address"))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return appErrors.NewInvalidRecipient(email, err)
	}
	return nil
}

// Domain returns the part of an address after the last '@'.
func Domain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
