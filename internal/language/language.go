package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

type entry struct {
	code2 string   // ISO 639-1 (2-letter)
	code3 string   // ISO 639-2 primary (3-letter)
	alt3  string   // ISO 639-2 alternate (e.g. "fre" vs "fra")
	words []string // Full word forms (e.g. "english")
}

// WhisperX ships default alignment models for each of these languages.
var languages = []entry{
	{"en", "eng", "", []string{"english"}},
	{"fr", "fra", "fre", []string{"french"}},
	{"de", "deu", "ger", []string{"german"}},
	{"es", "spa", "", []string{"spanish"}},
	{"it", "ita", "", []string{"italian"}},
	{"ja", "jpn", "", []string{"japanese"}},
	{"zh", "zho", "chi", []string{"chinese", "mandarin"}},
	{"nl", "nld", "dut", []string{"dutch"}},
	{"uk", "ukr", "", []string{"ukrainian"}},
	{"pt", "por", "", []string{"portuguese"}},
	{"ar", "ara", "", []string{"arabic"}},
	{"cs", "ces", "cze", []string{"czech"}},
	{"ru", "rus", "", []string{"russian"}},
	{"pl", "pol", "", []string{"polish"}},
	{"hu", "hun", "", []string{"hungarian"}},
	{"fi", "fin", "", []string{"finnish"}},
	{"fa", "fas", "per", []string{"persian", "farsi"}},
	{"el", "ell", "gre", []string{"greek"}},
	{"tr", "tur", "", []string{"turkish"}},
	{"da", "dan", "", []string{"danish"}},
	{"he", "heb", "", []string{"hebrew"}},
	{"vi", "vie", "", []string{"vietnamese"}},
	{"ko", "kor", "", []string{"korean"}},
	{"ur", "urd", "", []string{"urdu"}},
	{"te", "tel", "", []string{"telugu"}},
	{"hi", "hin", "", []string{"hindi"}},
	{"ca", "cat", "", []string{"catalan"}},
	{"ml", "mal", "", []string{"malayalam"}},
	{"no", "nor", "", []string{"norwegian"}},
	{"nn", "nno", "", []string{"nynorsk"}},
	{"sk", "slk", "slo", []string{"slovak"}},
	{"sl", "slv", "", []string{"slovenian", "slovene"}},
	{"hr", "hrv", "", []string{"croatian"}},
	{"ro", "ron", "rum", []string{"romanian"}},
	{"eu", "eus", "baq", []string{"basque"}},
	{"gl", "glg", "", []string{"galician"}},
	{"ka", "kat", "geo", []string{"georgian"}},
	{"lv", "lav", "", []string{"latvian"}},
	{"tl", "tgl", "", []string{"tagalog", "filipino"}},
}

var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if e, ok := byCode2[code]; ok {
		return e
	}
	if e, ok := byCode3[code]; ok {
		return e
	}
	if e, ok := byWord[code]; ok {
		return e
	}
	return nil
}

// AlignmentDefaults returns the ISO 639-1 codes WhisperX can align out of the
// box, in the order WhisperX lists them.
func AlignmentDefaults() []string {
	out := make([]string, 0, len(languages))
	for _, e := range languages {
		out = append(out, e.code2)
	}
	return out
}

// Normalize converts a language code, word form, or BCP 47 tag (e.g. "en-US",
// "ENG", "english") to ISO 639-1. Returns empty string when the input cannot
// be resolved to a base language.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if e := lookup(code); e != nil {
		return e.code2
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	value := base.String()
	if e := lookup(value); e != nil {
		return e.code2
	}
	if len(value) == 2 {
		return value
	}
	return ""
}

// DisplayName returns a human-readable English name for any resolvable code.
// Returns "Unknown" for empty input, or the uppercased code for unrecognized input.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "Unknown"
	}
	if normalized := Normalize(trimmed); normalized != "" {
		if tag, err := language.Parse(normalized); err == nil {
			if name := display.English.Languages().Name(tag); name != "" {
				return name
			}
		}
	}
	return strings.ToUpper(trimmed)
}

// NormalizeList deduplicates and normalizes a list of language codes to ISO 639-1.
// Entries that cannot be resolved are kept lowercased so validation can report them.
func NormalizeList(languages []string) []string {
	if len(languages) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(languages))
	seen := make(map[string]struct{}, len(languages))
	for _, lang := range languages {
		trimmed := strings.ToLower(strings.TrimSpace(lang))
		if trimmed == "" {
			continue
		}
		if mapped := Normalize(trimmed); mapped != "" {
			trimmed = mapped
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
