package domain

import "strings"

// Language is a response language with its ISO 639-1 code.
type Language struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// DefaultLanguage is used whenever a profile has no usable language.
var DefaultLanguage = Language{Name: "english", Code: "en"}

var supportedLanguages = []Language{
	DefaultLanguage,
	{Name: "hindi", Code: "hi"},
	{Name: "bengali", Code: "bn"},
	{Name: "tamil", Code: "ta"},
	{Name: "telugu", Code: "te"},
	{Name: "marathi", Code: "mr"},
	{Name: "gujarati", Code: "gu"},
	{Name: "kannada", Code: "kn"},
	{Name: "malayalam", Code: "ml"},
	{Name: "punjabi", Code: "pa"},
	{Name: "urdu", Code: "ur"},
}

// SupportedLanguages returns a copy of the language table.
func SupportedLanguages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// ParseLanguage accepts a language name or code in any case.
func ParseLanguage(s string) (Language, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultLanguage, false
	}
	for _, l := range supportedLanguages {
		if l.Name == s || l.Code == s {
			return l, true
		}
	}
	return DefaultLanguage, false
}

// Title returns the display form, e.g. "Hindi".
func (l Language) Title() string {
	if l.Name == "" {
		return ""
	}
	return strings.ToUpper(l.Name[:1]) + l.Name[1:]
}

// IsDefault reports whether l is the fallback language.
func (l Language) IsDefault() bool {
	return l.Code == DefaultLanguage.Code
}
