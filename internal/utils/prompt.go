package utils

import "strings"

// SanitizeForPrompt prepares user text for embedding into a prompt template.
// Runs of whitespace (newlines and tabs included) collapse to one space, square
// brackets become parentheses so the text cannot open a template section, and
// the result is cut to limit runes. A non-positive limit disables the cut.
func SanitizeForPrompt(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.NewReplacer("[", "(", "]", ")").Replace(s)

	if limit > 0 {
		runes := []rune(s)
		if len(runes) > limit {
			s = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return s
}
