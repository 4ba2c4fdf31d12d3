package logging

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// RedactToken returns a loggable form of a session token: the first
// four characters followed by a marker, or the marker alone for short
// tokens. Full tokens must never reach the log output.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return RedactedValue
	}
	return token[:4] + RedactedValue
}
