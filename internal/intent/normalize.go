package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses whitespace, so
// "¿Qué  TAL?" and "que tal?" compare equal. ñ is folded to n as well.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// words splits folded text into letter/digit tokens and rejoins them with
// single spaces, padded on both ends for phrase lookups.
func words(folded string) string {
	f := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(f, " ") + " "
}

// battery is a keyword set. Phrases match whole words; stems match anywhere.
type battery struct {
	phrases []string
	stems   []string
}

func (b battery) match(text string) bool {
	folded := Fold(text)
	padded := words(folded)
	for _, p := range b.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	for _, s := range b.stems {
		if strings.Contains(folded, s) {
			return true
		}
	}
	return false
}
