package reconcile

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeStyleLabel canonicalizes free-form commercial-style labels from
// the engine ("lifestyle  shot", "LIFESTYLE SHOT") into a single display
// form so the dashboard does not render the same style under three spellings.
func NormalizeStyleLabel(label string) string {
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(label))
}
