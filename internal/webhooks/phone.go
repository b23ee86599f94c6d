package webhooks

import (
	"regexp"
	"strings"
)

// nanpPattern accepts North American numbers with an optional country
// code and arbitrary punctuation between the groups.
var nanpPattern = regexp.MustCompile(`^(?:\+?1)?\D*([2-9]\d{2})\D*([2-9]\d{2})\D*(\d{4})$`)

// embeddedPhonePattern finds a NANP number anywhere inside free text,
// with an optional "phone:"/"tel:" label and common separators.
var embeddedPhonePattern = regexp.MustCompile(`(?i)(?:phone:|tel:)?\s*(?:\+?1[-.\s]?)?\(?([2-9]\d{2})\)?[-.\s]?([2-9]\d{2})[-.\s]?(\d{4})\b`)

// NormalizePhone canonicalizes a NANP number to +1XXXXXXXXXX. Anything
// that does not match returns "", and the caller drops the event rather
// than queuing a call the dialer cannot place.
func NormalizePhone(raw string) string {
	m := nanpPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ""
	}
	return "+1" + m[1] + m[2] + m[3]
}

// ExtractPhone pulls the first NANP number out of free text, such as a
// calendar event title or body. NormalizePhone stays strict for fields
// that hold nothing but a phone number; this one is for prose.
func ExtractPhone(text string) string {
	m := embeddedPhonePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return "+1" + m[1] + m[2] + m[3]
}
