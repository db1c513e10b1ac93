// Package mock provides a recording provider for tests: it implements
// both sender contracts, remembers every call, and returns scripted
// outcomes.
package mock

import (
	"context"
	"sync"

	"mail-messenger/internal/dispatch"
)

type SMSCall struct {
	To   string
	From string
	Body string
}

type Provider struct {
	mu        sync.Mutex
	smsCalls  []SMSCall
	emails    []*dispatch.Email
	smsErrs   []error
	emailErrs []error
}

func NewProvider() *Provider {
	return &Provider{}
}

// FailNextSMS scripts the outcome of upcoming SendSMS calls, in order.
func (p *Provider) FailNextSMS(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.smsErrs = append(p.smsErrs, errs...)
}

// FailNextEmail scripts the outcome of upcoming SendEmail calls, in order.
func (p *Provider) FailNextEmail(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emailErrs = append(p.emailErrs, errs...)
}

func (p *Provider) SendSMS(_ context.Context, to, from, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.smsCalls = append(p.smsCalls, SMSCall{To: to, From: from, Body: body})
	if len(p.smsErrs) > 0 {
		err := p.smsErrs[0]
		p.smsErrs = p.smsErrs[1:]
		return err
	}
	return nil
}

func (p *Provider) SendEmail(_ context.Context, email *dispatch.Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails = append(p.emails, email)
	if len(p.emailErrs) > 0 {
		err := p.emailErrs[0]
		p.emailErrs = p.emailErrs[1:]
		return err
	}
	return nil
}

func (p *Provider) SMSCalls() []SMSCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SMSCall(nil), p.smsCalls...)
}

func (p *Provider) Emails() []*dispatch.Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*dispatch.Email(nil), p.emails...)
}
