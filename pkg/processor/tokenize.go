package processor

import (
	"strings"
	"unicode"
)

// Common English stopwords plus the filler words players use in questions.
var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for",
	"from", "has", "he", "in", "is", "it", "its", "of", "on",
	"that", "the", "to", "was", "were", "will", "with",
	"about", "can", "do", "does", "how", "i", "me", "my", "or",
	"s", "tell", "this", "what", "where", "which", "who",
}

func NewStopwords(custom []string) map[string]struct{} {
	set := make(map[string]struct{}, len(defaultStopwords)+len(custom))
	for _, w := range defaultStopwords {
		set[w] = struct{}{}
	}
	for _, w := range custom {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// Tokenize lowercases text, splits on anything that is not a letter or a
// digit and drops stopwords.
func Tokenize(text string, stopwords map[string]struct{}) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func (p *Processor) Terms(text string) []string {
	return Tokenize(text, p.stopwords)
}
