package gate

import (
	"regexp"
	"strings"
	"unicode"
)

// emailPattern is a submission-time sanity check, not an RFC 5322 parser.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks enough like an address to be worth a
// verification round trip. Any Unicode space makes it invalid.
func ValidEmail(s string) bool {
	if s == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	return emailPattern.MatchString(s)
}
