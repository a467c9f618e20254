package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/resend/resend-go/v3"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
)

type emailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendTransport sends through the Resend HTTP API. The credential is the API key.
type ResendTransport struct {
	newAPI func(apiKey string) emailsAPI
}

func NewResendTransport() *ResendTransport {
	return &ResendTransport{newAPI: func(apiKey string) emailsAPI {
		return resend.NewClient(apiKey).Emails
	}}
}

func (t *ResendTransport) Connect(ctx context.Context, sender, credential string) (Client, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, appErrors.NewAuthenticationError(sender, errors.New("missing API key"))
	}
	return &resendClient{api: t.newAPI(credential), sender: sender}, nil
}

type resendClient struct {
	api    emailsAPI
	sender string
}

// Session is cheap: HTTP requests share the client's connection pool.
func (c *resendClient) Session(ctx context.Context) (Session, error) {
	return c, nil
}

func (c *resendClient) Send(ctx context.Context, msg *Message) error {
	if err := ValidateAddress(msg.To); err != nil {
		return err
	}

	_, err := c.api.SendWithContext(ctx, newResendRequest(msg))
	if err != nil {
		return classifyResend(err, msg.To)
	}
	return nil
}

func (c *resendClient) Close() error { return nil }

func newResendRequest(msg *Message) *resend.SendEmailRequest {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	for _, a := range msg.Attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = DetectContentType(a.Filename, a.Content)
		}
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: contentType,
			ContentId:   a.ContentID,
		})
	}
	return req
}

// classifyResend maps API errors by their message, which carries the
// provider's error name.
func classifyResend(err error, email string) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return appErrors.NewTransient(err)
	}

	text := strings.ToLower(err.Error())
	switch {
	case containsAny(text, "api key", "api_key", "unauthorized", "restricted_api_key", "401", "403"):
		return appErrors.NewFatal(appErrors.NewAuthenticationError("", err))
	case containsAny(text, "quota", "daily_quota_exceeded", "monthly_quota_exceeded"):
		return appErrors.NewFatal(err)
	case containsAny(text, "rate_limit", "rate limit", "too many requests", "429"):
		return appErrors.NewTransient(err)
	case containsAny(text, "internal_server_error", "application_error", "500", "502", "503", "504"):
		return appErrors.NewTransient(err)
	case containsAny(text, "invalid `to`", "invalid to", "invalid_to", "recipient"):
		return appErrors.NewInvalidRecipient(email, err)
	case containsAny(text, "invalid_from_address", "validation_error", "422"):
		return appErrors.NewPermanent(email, err)
	}
	return appErrors.NewPermanent(email, fmt.Errorf("resend: %w", err))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
