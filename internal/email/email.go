// Package email provides address helpers shared by the mail drivers.
package email

import (
	"fmt"
	"net/mail"
	"strings"
)

// ValidateAddress checks that s is a single RFC 5322 address and returns
// its bare addr-spec form.
func ValidateAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr.Address, nil
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	address := email
	if addr, err := mail.ParseAddress(email); err == nil {
		address = addr.Address
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// ExtractDomainOrDefault is ExtractDomain with a fallback for invalid input.
func ExtractDomainOrDefault(email, defaultDomain string) string {
	if domain := ExtractDomain(email); domain != "" {
		return domain
	}
	return defaultDomain
}
