package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// ErrUnknownLanguage is returned by [ParseLanguage] when no supported
// language is close enough to the input.
var ErrUnknownLanguage = errors.New("chat: unknown language")

// Language is a supported conversation language. Its value is the display
// name, which is also what prompts to the translation model use.
type Language string

// Supported languages.
const (
	English          Language = "English"
	Spanish          Language = "Spanish"
	French           Language = "French"
	German           Language = "German"
	Italian          Language = "Italian"
	Portuguese       Language = "Portuguese"
	Dutch            Language = "Dutch"
	Polish           Language = "Polish"
	Russian          Language = "Russian"
	Japanese         Language = "Japanese"
	Korean           Language = "Korean"
	ChineseMandarin  Language = "Chinese (Mandarin)"
	ChineseCantonese Language = "Chinese (Cantonese)"
	Hindi            Language = "Hindi"
	Bengali          Language = "Bengali"
	Thai             Language = "Thai"
	Vietnamese       Language = "Vietnamese"
	Indonesian       Language = "Indonesian"
	Tagalog          Language = "Tagalog (Filipino)"
	Cebuano          Language = "Cebuano"
	Ilocano          Language = "Ilocano"
	Arabic           Language = "Arabic"
	Turkish          Language = "Turkish"
	Swedish          Language = "Swedish"
	Norwegian        Language = "Norwegian"
	Danish           Language = "Danish"
	Finnish          Language = "Finnish"
	Greek            Language = "Greek"
	Hebrew           Language = "Hebrew"
	Malay            Language = "Malay"
	Ukrainian        Language = "Ukrainian"
)

// languages lists every supported language in display order with its
// BCP-47 recognition tag.
var languages = []struct {
	lang Language
	tag  string
}{
	{English, "en-US"},
	{Spanish, "es-ES"},
	{French, "fr-FR"},
	{German, "de-DE"},
	{Italian, "it-IT"},
	{Portuguese, "pt-BR"},
	{Dutch, "nl-NL"},
	{Polish, "pl-PL"},
	{Russian, "ru-RU"},
	{Japanese, "ja-JP"},
	{Korean, "ko-KR"},
	{ChineseMandarin, "zh-CN"},
	{ChineseCantonese, "zh-HK"},
	{Hindi, "hi-IN"},
	{Bengali, "bn-IN"},
	{Thai, "th-TH"},
	{Vietnamese, "vi-VN"},
	{Indonesian, "id-ID"},
	{Tagalog, "fil-PH"},
	{Cebuano, "ceb-PH"},
	{Ilocano, "ilo-PH"},
	{Arabic, "ar-SA"},
	{Turkish, "tr-TR"},
	{Swedish, "sv-SE"},
	{Norwegian, "nb-NO"},
	{Danish, "da-DK"},
	{Finnish, "fi-FI"},
	{Greek, "el-GR"},
	{Hebrew, "he-IL"},
	{Malay, "ms-MY"},
	{Ukrainian, "uk-UA"},
}

// fuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy match.
const fuzzyThreshold = 0.85

// Languages returns all supported languages in display order.
func Languages() []Language {
	out := make([]Language, len(languages))
	for i, l := range languages {
		out[i] = l.lang
	}
	return out
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l.Tag() != ""
}

// Tag returns the BCP-47 speech recognition tag for l, or "" if l is not
// supported.
func (l Language) Tag() string {
	for _, e := range languages {
		if e.lang == l {
			return e.tag
		}
	}
	return ""
}

// String returns the display name.
func (l Language) String() string { return string(l) }

// UnmarshalText resolves the text with [ParseLanguage], so configuration
// files and client commands accept tags and near-miss spellings.
func (l *Language) UnmarshalText(text []byte) error {
	parsed, err := ParseLanguage(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLanguage resolves s to a supported language. It accepts, in order of
// preference: the display name, a BCP-47 tag or its primary subtag, any
// single word of the display name ("Mandarin", "Filipino"), and finally a
// fuzzy match that tolerates typos ("spansh", "japanes"). Matching is case
// insensitive.
func ParseLanguage(s string) (Language, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknownLanguage)
	}

	for _, e := range languages {
		if in == strings.ToLower(string(e.lang)) || in == strings.ToLower(e.tag) {
			return e.lang, nil
		}
	}
	// Primary subtags are ambiguous for Chinese; the first listed wins.
	for _, e := range languages {
		if primary, _, _ := strings.Cut(strings.ToLower(e.tag), "-"); in == primary {
			return e.lang, nil
		}
	}
	for _, e := range languages {
		for _, w := range nameWords(e.lang) {
			if in == w {
				return e.lang, nil
			}
		}
	}

	if l, ok := fuzzyLanguage(in); ok {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

// fuzzyLanguage ranks the words of every display name by Jaro-Winkler
// similarity to in. Words that share a Double Metaphone code with in are
// preferred over those that only look similar.
func fuzzyLanguage(in string) (Language, bool) {
	inP, inS := matchr.DoubleMetaphone(in)

	var (
		best      Language
		bestScore float64
	)
	for _, e := range languages {
		for _, w := range nameWords(e.lang) {
			score := matchr.JaroWinkler(in, w, false)
			p, s := matchr.DoubleMetaphone(w)
			if p == inP || (s != "" && s == inS) || p == inS {
				score += 0.05
			}
			if score > bestScore {
				best, bestScore = e.lang, score
			}
		}
	}
	return best, bestScore >= fuzzyThreshold
}

// nameWords splits a display name into lower-case words without
// parentheses.
func nameWords(l Language) []string {
	return strings.Fields(strings.NewReplacer("(", " ", ")", " ").Replace(strings.ToLower(string(l))))
}
