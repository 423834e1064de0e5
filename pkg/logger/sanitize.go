package logger

import (
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"
)

const redacted = "[REDACTED]"

// Query parameters that carry codes, addresses or credentials
var sensitiveParams = map[string]bool{
	"code":          true,
	"token":         true,
	"refresh_token": true,
	"email":         true,
	"user_id":       true,
	"password":      true,
}

// SanitizedEmail keeps the first character of the mailbox and the top-level
// domain: "alice@example.com" becomes "a***@***.com".
func SanitizedEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	first, _ := utf8.DecodeRuneInString(email[:at])
	masked := string(first) + "***@***"

	domain := email[at+1:]
	if dot := strings.LastIndexByte(domain, '.'); dot >= 0 {
		masked += domain[dot:]
	}
	return masked
}

// Secret is a string that logs as [REDACTED] under any slog handler
type Secret string

func (Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// RevealIf logs value in clear only when reveal is set
func RevealIf(key, value string, reveal bool) slog.Attr {
	if reveal {
		return slog.String(key, value)
	}
	return slog.Any(key, Secret(value))
}

// RedactQuery returns rawQuery unchanged unless one of its keys is sensitive
// or it does not parse, in which case the whole query becomes [REDACTED].
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return redacted
	}
	for key := range values {
		if sensitiveParams[strings.ToLower(key)] {
			return redacted
		}
	}
	return rawQuery
}
