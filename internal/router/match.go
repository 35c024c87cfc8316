package router

import (
	"strings"
	"unicode"
)

// normalize lowercases text and turns punctuation into spaces. Combining
// marks are kept so Devanagari words stay intact.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	prevSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			b.WriteRune(r)
			prevSpace = false
			continue
		}
		if !prevSpace {
			b.WriteByte(' ')
			prevSpace = true
		}
	}
	if !prevSpace {
		b.WriteByte(' ')
	}
	return b.String()
}

// isLatin reports whether every letter of s is in the Latin script.
func isLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

// index returns the byte offset of keyword in normalized text, or -1.
// Latin keywords must sit on word boundaries; other scripts match as substrings.
func index(norm, keyword string) int {
	if keyword == "" {
		return -1
	}
	if isLatin(keyword) {
		i := strings.Index(norm, " "+keyword+" ")
		if i < 0 {
			return -1
		}
		return i + 1
	}
	return strings.Index(norm, keyword)
}

// firstMatch returns the earliest keyword found in norm.
func firstMatch(norm string, keywords []string) (string, bool) {
	best, bestAt := "", -1
	for _, kw := range keywords {
		at := index(norm, kw)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(kw) > len(best)) {
			best, bestAt = kw, at
		}
	}
	return best, bestAt >= 0
}

// firstAlias resolves the earliest alias found in norm to its canonical form.
func firstAlias(norm string, table []alias) (string, bool) {
	best, bestAt, bestLen := "", -1, 0
	for _, a := range table {
		at := index(norm, a.form)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(a.form) > bestLen) {
			best, bestAt, bestLen = a.canonical, at, len(a.form)
		}
	}
	return best, bestAt >= 0
}

func anyMatch(norm string, keywords []string) bool {
	_, ok := firstMatch(norm, keywords)
	return ok
}
