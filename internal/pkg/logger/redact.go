package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***@***"
	}
	name, host := email[:at], email[at+1:]
	// Display-name form: "Rebel <noreply@example.com>"
	if lt := strings.LastIndex(name, "<"); lt >= 0 {
		return name[:lt+1] + RedactEmail(email[lt+1:])
	}
	if len(name) > 2 {
		return name[:2] + "***@" + host
	}
	return "***@" + host
}
