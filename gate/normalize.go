package gate

import (
	"strings"
	"unicode"
)

// NormalizeText cleans request text so that textually-identical requests
// produce identical cache fingerprints: surrounding whitespace is trimmed,
// runs of spaces are collapsed, and non-printable characters are dropped
// (newlines and tabs are preserved since prompts are line-structured).
func NormalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = collapseSpaces(text)
	return stripNonPrintable(text)
}

// collapseSpaces replaces consecutive spaces with a single space but
// preserves newlines and tabs
func collapseSpaces(s string) string {
	var result strings.Builder
	wasSpace := false

	for _, r := range s {
		if r == '\n' || r == '\t' {
			result.WriteRune(r)
			wasSpace = false
		} else if unicode.IsSpace(r) {
			if !wasSpace {
				result.WriteRune(' ')
				wasSpace = true
			}
		} else {
			result.WriteRune(r)
			wasSpace = false
		}
	}

	return result.String()
}

// stripNonPrintable removes non-printable characters except newlines and tabs
func stripNonPrintable(s string) string {
	var result strings.Builder

	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
