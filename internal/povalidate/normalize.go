package povalidate

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// NormalizeSerial folds case, drops separators and strips leading zeros from
// every digit run, so "ABC-001", "abc001", "ABC 001" and "ABC0001" compare
// equal.
func NormalizeSerial(s string) string {
	folded := folder.String(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(folded))
	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		i := 0
		for i < len(run)-1 && run[i] == '0' {
			i++
		}
		b.WriteString(string(run[i:]))
		run = run[:0]
	}
	for _, r := range folded {
		switch {
		case r == '-' || r == '.' || r == '/' || r == '_' || unicode.IsSpace(r):
			// Separators are dropped before digit runs are read.
		case unicode.IsDigit(r):
			run = append(run, r)
		default:
			flush()
			b.WriteRune(r)
		}
	}
	flush()
	return b.String()
}

// MatchSerial reports whether two serial numbers refer to the same asset:
// equal normalized forms, or containment when both forms have at least 4
// characters.
func MatchSerial(a, b string) bool {
	na, nb := NormalizeSerial(a), NormalizeSerial(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) >= 4 && len(nb) >= 4 {
		return strings.Contains(na, nb) || strings.Contains(nb, na)
	}
	return false
}
