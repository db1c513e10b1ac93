package dispatch

import (
	"regexp"
	"strings"
	"time"
)

// Kind is the delivery channel a row resolves to.
type Kind string

const (
	KindSMS   Kind = "sms"
	KindEmail Kind = "email"
)

var (
	phoneRe      = regexp.MustCompile(`^\+?\d{10,11}$`)
	emailRe      = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)
	localStripRe = regexp.MustCompile(`[()\s\-]`)
	digitStripRe = regexp.MustCompile(`[()\s\-+]+`)
	nonWordRe    = regexp.MustCompile(`[^\w\-_.]`)
)

// Classify decides the channel for a destination address. The local part
// (left of the first @, with parentheses, whitespace and dashes removed)
// makes the row SMS when it is 10-11 digits with an optional leading plus.
// Anything else is email and must satisfy the email shape; valid=false
// marks the row as undeliverable.
func Classify(destination string) (kind Kind, valid bool) {
	local := strings.SplitN(strings.TrimSpace(destination), "@", 2)[0]
	local = localStripRe.ReplaceAllString(local, "")

	if phoneRe.MatchString(local) {
		return KindSMS, true
	}
	return KindEmail, emailRe.MatchString(destination)
}

// ValidEmail is the recipient filter applied to CC/BCC entries.
func ValidEmail(address string) bool {
	return emailRe.MatchString(address)
}

// AttachmentName derives the CSV filename for a report: the subject
// lowercased with non-word characters replaced by underscores, plus a UTC
// timestamp suffix.
func AttachmentName(subject string, now time.Time) string {
	base := nonWordRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(subject)), "_")
	return base + now.UTC().Format("_2006_01_02_15_04_05") + ".csv"
}
