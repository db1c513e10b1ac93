// Package twilio adapts the Twilio REST client to the dispatcher's
// SMSSender contract.
package twilio

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type Provider struct {
	client *twilio.RestClient
}

// New authenticates with an API key pair scoped to the given account.
func New(accountSID, apiKeySID, apiKeySecret string) *Provider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   apiKeySID,
		Password:   apiKeySecret,
		AccountSid: accountSID,
	})
	return &Provider{client: client}
}

// SendSMS delivers one message. A non-empty provider-reported error code
// counts as failure even when the HTTP call itself succeeded.
func (p *Provider) SendSMS(_ context.Context, to, from, body string) error {
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	resp, err := p.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		errorMessage := ""
		if resp.ErrorMessage != nil {
			errorMessage = *resp.ErrorMessage
		}
		return fmt.Errorf("sms error %d %s", *resp.ErrorCode, errorMessage)
	}
	return nil
}
