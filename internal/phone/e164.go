// Package phone normalizes dialable numbers to E.164.
package phone

import (
	"fmt"
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// ErrAmbiguous is returned when a number has no recognizable prefix and no
// default country code is configured. Callers must not dial such numbers.
type ErrAmbiguous struct {
	Number string
}

func (e *ErrAmbiguous) Error() string {
	return fmt.Sprintf("ambiguous phone number %q: no country prefix and no default country code configured", e.Number)
}

// ErrInvalid is returned when a number cannot be a valid E.164 number even
// after prefix heuristics are applied.
type ErrInvalid struct {
	Number string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("invalid phone number %q", e.Number)
}

// Normalize converts raw into E.164 form. defaultCountryCode is a "+"-prefixed
// dialing code (for example "+1") applied to bare national numbers; when it is
// empty, such numbers fail closed with ErrAmbiguous.
//
// Heuristics, in order: an explicit "+" prefix is accepted as-is; a number
// beginning with 91 and at least 12 digits long is treated as an Indian number
// missing its "+"; a bare 10-digit number is treated as US.
func Normalize(raw, defaultCountryCode string) (string, error) {
	cleaned := strip(raw)
	if cleaned == "" {
		return "", &ErrInvalid{Number: raw}
	}

	var candidate string
	switch {
	case strings.HasPrefix(cleaned, "+"):
		candidate = cleaned
	case strings.HasPrefix(cleaned, "91") && len(cleaned) >= 12:
		candidate = "+" + cleaned
	case len(cleaned) == 10 && allDigits(cleaned):
		candidate = "+1" + cleaned
	default:
		if defaultCountryCode == "" {
			return "", &ErrAmbiguous{Number: raw}
		}
		candidate = defaultCountryCode + cleaned
	}

	if !e164Pattern.MatchString(candidate) {
		return "", &ErrInvalid{Number: raw}
	}
	return candidate, nil
}

// Valid reports whether s is already a well-formed E.164 number.
func Valid(s string) bool {
	return e164Pattern.MatchString(s)
}

// strip removes formatting characters commonly found in imported lead lists.
func strip(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting, drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
