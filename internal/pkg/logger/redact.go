package logger

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" becomes "jo***@example.com".
// Short local parts (<=2 chars) are fully masked: "ab@example.com" becomes "***@example.com".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// redactValue masks subscriber addresses. Only keys that carry a single
// address are masked wholesale; counters like "recipients" must pass
// through. Other fields are scanned for embedded addresses.
func redactValue(key, val string) string {
	switch strings.ToLower(key) {
	case "email", "recipient", "recipient_email", "from_email", "reply_to":
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
