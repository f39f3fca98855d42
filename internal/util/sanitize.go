package util

import (
	"strings"
)

// NormalizeIdentifier trims surrounding whitespace. Identifiers are otherwise
// stored exactly as sent; lookups use exact equality.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(s)
}

// ContainsSuspicious flags identifier values carrying markup or template
// characters that have no business in an email address or phone number.
// Only characters are checked: word matching would reject legitimate
// addresses like descriptor@example.org.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}"}
	for _, c := range badChars {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}
