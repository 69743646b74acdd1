package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "passw0rd": {},
	"12345678": {}, "123456789": {}, "1234567890": {}, "11111111": {},
	"qwerty123": {}, "qwertyuiop": {}, "iloveyou": {}, "letmein1": {},
	"bookshelf": {}, "bookworm": {}, "library1": {},
}

// Validate checks pw against the policy.
func (c Config) Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && isVeryWeak(pw):
		return ErrWeakPassword
	}
	return nil
}

// isVeryWeak catches only the obvious: one repeated character, short digit strings and
// a small list of common choices.
func isVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := commonPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	same, digits := true, true
	for _, r := range s {
		if r != first {
			same = false
		}
		if !unicode.IsDigit(r) {
			digits = false
		}
	}
	return same || (digits && utf8.RuneCountInString(s) < 12)
}
