// Package email derives display names from email addresses, used when an
// invitation is issued before the invitee has supplied their own details.
package email

import (
	"strings"
	"unicode"
)

// fallbackName stands in when the local part yields no usable segment.
const fallbackName = "User"

// DeriveNameFromEmail splits the address's local part on common separators
// and title-cases the first and last segments: "jane.doe@example.test"
// becomes ("Jane", "Doe"). A single-segment local part gets the fallback
// surname.
func DeriveNameFromEmail(address string) (first, last string) {
	local, _, _ := strings.Cut(address, "@")
	if local == "" {
		local = address
	}

	segments := strings.FieldsFunc(local, isSeparator)
	if len(segments) == 0 {
		return fallbackName, fallbackName
	}

	first = titleCase(segments[0])
	last = fallbackName
	if len(segments) > 1 {
		last = titleCase(segments[len(segments)-1])
	}
	return first, last
}

func isSeparator(r rune) bool {
	switch r {
	case '.', '_', '-', '+':
		return true
	}
	return false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
