package logger

import "strings"

// RedactEmail masks an address for logs: "john.doe@example.com" becomes
// "jo***@example.com". Local parts of two characters or fewer are fully masked.
// Values that are not a single address come back as "***@***".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
