package users

import "strings"

// NormalizeEmail lower-cases the domain part of an address. The local part
// is kept as given, so Jane@EXAMPLE.com and Jane@example.com are the same
// account while jane@example.com is not.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}
