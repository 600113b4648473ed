package signal

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxKeywords = 5

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be been but by for from has have i in is it its
		of on or our so that the this to was we were will with my me not no yet still again today yesterday
		about into than then there they them up out can cant cannot`) {
		stopWords[w] = struct{}{}
	}
	for _, e := range lexicon {
		for _, t := range e.terms {
			for _, w := range strings.Fields(strings.ToLower(t)) {
				stopWords[strings.Map(keepWordRune, w)] = struct{}{}
			}
		}
	}
}

func keepWordRune(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
		return unicode.ToLower(r)
	}
	return -1
}

// Keywords reduces a blocker text to a stable subject when it names no tracker item:
// lowercase, punctuation stripped, stop words and lexicon terms dropped, tokens under
// three runes dropped, de-duplicated, sorted, first five joined by spaces. So
// "Stuck on the staging deploy!" and "staging deploy stuck" share the subject
// "deploy staging".
func Keywords(text string) string {
	seen := map[string]struct{}{}
	var words []string
	for _, f := range strings.Fields(text) {
		w := strings.Trim(strings.Map(keepWordRune, f), "-")
		if utf8.RuneCountInString(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	sort.Strings(words)
	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	return strings.Join(words, " ")
}
