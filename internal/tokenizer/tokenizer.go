// Package tokenizer turns raw book text into the word stream that n-grams are
// built from. It scrubs invalid UTF-8, case-folds, and splits on word
// boundaries (letters, digits, marks and underscore form words). The same
// normalisation is applied at indexing and at comparison time.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalize scrubs invalid byte sequences and folds case. Invalid bytes
// become a space so they act as word boundaries.
func normalize(text string) string {
	text = strings.ToValidUTF8(text, " ")
	return norm.NFC.String(cases.Fold().String(text))
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// eachWord calls fn with every maximal run of word runes in s.
func eachWord(s string, fn func(word string)) {
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fn(s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		fn(s[start:])
	}
}

// Clean returns the normalised text: folded words separated by single
// spaces. Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	folded := normalize(text)
	var b strings.Builder
	b.Grow(len(folded))
	eachWord(folded, func(word string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	})
	return b.String()
}

// Tokenize returns the words of Clean(text) in order.
func Tokenize(text string) []string {
	folded := normalize(text)
	tokens := make([]string, 0, len(folded)/6)
	eachWord(folded, func(word string) {
		tokens = append(tokens, word)
	})
	return tokens
}

// WordCount counts whitespace-delimited runs in the raw text. It is the
// length normaliser used by the similarity score and is deliberately
// independent of Tokenize.
func WordCount(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}
