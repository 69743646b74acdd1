package identity

import (
	"slices"
	"strings"
)

// NormalizeUsername is the case-insensitive lookup form.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail is the case-insensitive lookup form.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRoles lower-cases, drops unknown roles and de-duplicates. The result is sorted.
func NormalizeRoles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if IsKnownRole(r) && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}

// looksLikeEmail decides whether a login identifier is an email address.
func looksLikeEmail(login string) bool {
	return strings.Contains(login, "@")
}
