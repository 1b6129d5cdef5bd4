package ir

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the comparison form of a metadata name. Vocabulary
// terms, genomes and dataset names match case-insensitively and ignore the
// separators ' ', '_', '-' and '.', so "H3K4me3", "h3k4me3" and "H3K4_ME3"
// all name the same epigenetic mark.
func NormalizeName(name string) string {
	// A Caser is stateful, so one is created per call.
	folded := cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.':
			return -1
		}
		return r
	}, folded)
}
