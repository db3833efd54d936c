package errors

import (
	stderrors "errors"
	"regexp"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	ipv4Pattern  = regexp.MustCompile(`\b(\d{1,3}\.){3}\d{1,3}\b`)
)

// Redact scrubs emails, phone numbers, and IPv4 literals from a message
// before it is written to a client-facing error body.
func Redact(msg string) string {
	msg = emailPattern.ReplaceAllString(msg, "[redacted-email]")
	msg = ipv4Pattern.ReplaceAllString(msg, "[redacted-ip]")
	msg = phonePattern.ReplaceAllString(msg, "[redacted-phone]")
	return msg
}
