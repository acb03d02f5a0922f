package provider

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CleanName collapses whitespace and title-cases an all-caps provider name.
// Mixed-case input is left as typed. Casers are stateful, so each call
// builds its own.
func CleanName(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" || s != strings.ToUpper(s) {
		return s
	}
	return cases.Title(language.English).String(s)
}

// FoldName returns a comparison key for owner matching.
func FoldName(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

func joinName(first, last *string) *string {
	var parts []string
	if first != nil {
		parts = append(parts, *first)
	}
	if last != nil {
		parts = append(parts, *last)
	}
	if len(parts) == 0 {
		return nil
	}
	full := strings.Join(parts, " ")
	return &full
}
