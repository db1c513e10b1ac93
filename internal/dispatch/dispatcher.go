package dispatch

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"go.uber.org/zap"

	"mail-messenger/internal/queue"
)

// SMSSender delivers one text message. Implementations must be safe for
// concurrent use.
type SMSSender interface {
	SendSMS(ctx context.Context, to, from, body string) error
}

// Email is the provider-neutral payload handed to an EmailSender.
type Email struct {
	From    string
	To      string
	CC      []string
	BCC     []string
	Subject string
	Body    string

	// AttachmentName/AttachmentB64 are set only for reports: a CSV
	// filename and the base64-encoded bytes.
	AttachmentName string
	AttachmentB64  string
}

// EmailSender delivers one email. Implementations must be safe for
// concurrent use.
type EmailSender interface {
	SendEmail(ctx context.Context, email *Email) error
}

// Outcome of dispatching one claimed row.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	// OutcomeInvalid means the destination failed the format check;
	// the row goes straight to FailedMail without retries.
	OutcomeInvalid
)

// Dispatcher classifies claimed rows and routes them to the right
// provider. Overrides, no-notify and testing only touch the in-memory
// record; the persisted row is never rewritten here. In testing mode a
// channel without an override reports success without reaching its
// provider, so a dry run sends no live traffic to real recipients.
type Dispatcher struct {
	sms    SMSSender
	email  EmailSender
	logger *zap.Logger

	fromNumber    string // configured Twilio sender
	fromEmail     string // configured email sender; falls back to SourceAddress
	emailOverride string
	phoneOverride string
	noNotify      bool
	testing       bool

	now func() time.Time
}

type DispatcherParams struct {
	SMS           SMSSender
	Email         EmailSender
	Logger        *zap.Logger
	FromNumber    string
	FromEmail     string
	EmailOverride string
	PhoneOverride string
	NoNotify      bool

	// Testing suppresses provider calls unless an override redirects the
	// channel somewhere safe to hit.
	Testing bool
}

func New(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		sms:           p.SMS,
		email:         p.Email,
		logger:        p.Logger,
		fromNumber:    p.FromNumber,
		fromEmail:     p.FromEmail,
		emailOverride: p.EmailOverride,
		phoneOverride: p.PhoneOverride,
		noNotify:      p.NoNotify,
		testing:       p.Testing,
		now:           time.Now,
	}
}

// Dispatch sends one claimed row. Provider errors are contained here: the
// returned outcome is the only thing the caller acts on.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *queue.Message) (Kind, Outcome) {
	kind, valid := Classify(msg.DestinationAddress)
	if !valid {
		d.logger.Error("invalid destination address",
			zap.Int64("id", msg.ID), zap.String("destination", msg.DestinationAddress))
		return kind, OutcomeInvalid
	}

	var err error
	switch kind {
	case KindSMS:
		err = d.sendSMS(ctx, msg)
	case KindEmail:
		err = d.sendEmail(ctx, msg)
	}
	if err != nil {
		d.logger.Error("dispatch failed", zap.Int64("id", msg.ID), zap.String("kind", string(kind)), zap.Error(err))
		return kind, OutcomeFailed
	}
	return kind, OutcomeSuccess
}

func (d *Dispatcher) sendSMS(ctx context.Context, msg *queue.Message) error {
	destination := msg.DestinationAddress
	if d.phoneOverride != "" {
		destination = d.phoneOverride
	}

	parts := strings.SplitN(strings.TrimSpace(destination), "@", 2)
	target := digitStripRe.ReplaceAllString(parts[0], "")
	var domain string
	if len(parts) > 1 {
		domain = parts[1]
	}

	subject := strings.TrimSpace(msg.Subject)
	body := strings.TrimSpace(msg.Body)

	// Gateway-addressed devices need the subject folded into the body.
	if domain == "txt.att.net" {
		body = "SUBJ:" + subject + "\nMSG:" + body
	}

	if d.noNotify {
		d.logger.Debug("notifications disabled, skipping SMS", zap.String("to", target))
		return nil
	}
	if d.testing && d.phoneOverride == "" {
		d.logger.Debug("dry run without phone override, skipping SMS", zap.String("to", target))
		return nil
	}

	d.logger.Debug("sending SMS", zap.Int64("id", msg.ID), zap.String("to", target), zap.String("body", body))
	return d.sms.SendSMS(ctx, target, d.fromNumber, body)
}

func (d *Dispatcher) sendEmail(ctx context.Context, msg *queue.Message) error {
	recipient := msg.DestinationAddress
	if d.emailOverride != "" {
		recipient = d.emailOverride
	}

	from := d.fromEmail
	if from == "" && msg.SourceAddress != nil {
		from = *msg.SourceAddress
	}

	email := &Email{
		From:    from,
		To:      recipient,
		Subject: msg.Subject,
		Body:    msg.Body,
		CC:      d.recipientList(msg.CCAddress, "CC"),
		BCC:     d.recipientList(msg.BCCAddress, "BCC"),
	}

	if msg.IsReport() {
		email.AttachmentName = AttachmentName(msg.Subject, d.now())
		email.AttachmentB64 = base64.StdEncoding.EncodeToString(msg.Attachment)
	}

	if d.noNotify {
		d.logger.Debug("notifications disabled, skipping email", zap.String("to", recipient))
		return nil
	}
	if d.testing && d.emailOverride == "" {
		d.logger.Debug("dry run without email override, skipping email", zap.String("to", recipient))
		return nil
	}

	d.logger.Debug("sending email",
		zap.Int64("id", msg.ID), zap.String("to", recipient),
		zap.Strings("cc", email.CC), zap.Strings("bcc", email.BCC),
		zap.String("attachment", email.AttachmentName))
	return d.email.SendEmail(ctx, email)
}

// recipientList splits a comma-separated address list, dropping entries
// that fail the email shape. Malformed entries are logged and skipped;
// they never fail the whole message.
func (d *Dispatcher) recipientList(raw *string, field string) []string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}

	var out []string
	for _, entry := range strings.Split(strings.TrimSpace(*raw), ",") {
		addr := strings.TrimSpace(entry)
		if addr == "" {
			continue
		}
		if !ValidEmail(addr) {
			d.logger.Error("ignoring malformed recipient", zap.String("field", field), zap.String("address", addr))
			continue
		}
		out = append(out, addr)
	}
	return out
}
