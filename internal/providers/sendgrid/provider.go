// Package sendgrid adapts the SendGrid v3 mail API to the dispatcher's
// EmailSender contract.
package sendgrid

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"mail-messenger/internal/dispatch"
)

type Provider struct {
	client *sendgrid.Client
}

func New(apiKey string) *Provider {
	return &Provider{client: sendgrid.NewSendClient(apiKey)}
}

// SendEmail posts one message. Success is an HTTP status in [200, 204].
func (p *Provider) SendEmail(ctx context.Context, email *dispatch.Email) error {
	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail("", email.From))
	m.Subject = email.Subject
	m.AddContent(sgmail.NewContent("text/plain", email.Body))

	personalization := sgmail.NewPersonalization()
	personalization.AddTos(sgmail.NewEmail("", email.To))
	for _, cc := range email.CC {
		personalization.AddCCs(sgmail.NewEmail("", cc))
	}
	for _, bcc := range email.BCC {
		personalization.AddBCCs(sgmail.NewEmail("", bcc))
	}
	m.AddPersonalizations(personalization)

	if email.AttachmentName != "" {
		attachment := sgmail.NewAttachment()
		attachment.SetContent(email.AttachmentB64)
		attachment.SetType("text/csv")
		attachment.SetFilename(email.AttachmentName)
		attachment.SetDisposition("attachment")
		m.AddAttachment(attachment)
	}

	resp, err := p.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to post email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 204 {
		return fmt.Errorf("email request failed with code %d", resp.StatusCode)
	}
	return nil
}
