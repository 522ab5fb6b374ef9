// Package index provides the tokenizer and match-query builder shared by
// the FTS posting writers and the query router.
//
// No language-aware segmenter is assumed. Japanese (CJK) runs are indexed
// as character bigrams so that short free-text queries match substrings;
// alphanumeric runs are kept whole. Both sides — posting generation and
// query building — must use the same Tokenizer instance so postings and
// match terms agree.
package index

import (
	"strings"
	"unicode"
)

// DefaultNGram is the character n-gram width for CJK runs.
const DefaultNGram = 2

// DefaultTokenChars are the extra token-internal characters
// (percent and degree signs appear inside indicator values).
const DefaultTokenChars = "%°"

// Tokenizer converts text into the token stream stored in the FTS tables.
type Tokenizer struct {
	ngram      int
	tokenChars map[rune]struct{}
}

// NewTokenizer creates a tokenizer with the given CJK n-gram width and
// extra token-internal characters. Zero values fall back to defaults.
func NewTokenizer(ngram int, tokenChars string) *Tokenizer {
	if ngram <= 0 {
		ngram = DefaultNGram
	}
	if tokenChars == "" {
		tokenChars = DefaultTokenChars
	}
	tc := make(map[rune]struct{}, len(tokenChars))
	for _, r := range tokenChars {
		tc[r] = struct{}{}
	}
	return &Tokenizer{ngram: ngram, tokenChars: tc}
}

// Default returns a tokenizer with default settings.
func Default() *Tokenizer {
	return NewTokenizer(DefaultNGram, DefaultTokenChars)
}

// Tokenize splits text into index tokens. Alphanumeric runs (including
// configured token chars, with wide-width forms normalized to ASCII) are
// emitted whole and lowercased; CJK runs are emitted as overlapping
// n-grams. Runs shorter than the n-gram width are emitted as-is.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, run := range t.split(text) {
		if run.cjk {
			tokens = append(tokens, ngrams(run.runes, t.ngram)...)
		} else {
			tokens = append(tokens, string(run.runes))
		}
	}
	return tokens
}

// TokenStream returns the space-joined token stream stored in an FTS
// body column. Deterministic: same text yields a byte-identical stream.
func (t *Tokenizer) TokenStream(text string) string {
	return strings.Join(t.Tokenize(text), " ")
}

type run struct {
	runes []rune
	cjk   bool
}

// split scans text into alternating alphanumeric and CJK runs, dropping
// separators. Wide-width ASCII (including Japanese full-width numerals)
// is normalized into the alphanumeric class, so "５０％" and "50%" yield
// the same token.
func (t *Tokenizer) split(text string) []run {
	var runs []run
	var cur []rune
	curCJK := false

	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, run{runes: cur, cjk: curCJK})
			cur = nil
		}
	}

	for _, r := range text {
		r = normalizeRune(r)
		switch {
		case isCJK(r):
			if !curCJK {
				flush()
				curCJK = true
			}
			cur = append(cur, r)
		case t.isWordRune(r):
			if curCJK {
				flush()
				curCJK = false
			}
			cur = append(cur, unicode.ToLower(r))
		default:
			flush()
			curCJK = false
		}
	}
	flush()
	return runs
}

func (t *Tokenizer) isWordRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	_, ok := t.tokenChars[r]
	return ok
}

// ngrams emits overlapping n-grams over rs. A run shorter than n is
// emitted whole so short queries still produce a matchable token.
func ngrams(rs []rune, n int) []string {
	if len(rs) < n {
		return []string{string(rs)}
	}
	out := make([]string, 0, len(rs)-n+1)
	for i := 0; i+n <= len(rs); i++ {
		out = append(out, string(rs[i:i+n]))
	}
	return out
}

// normalizeRune maps full-width ASCII forms (Ａ-ｚ, ０-９, ％) to their
// ASCII equivalents and the ideographic space to a plain space.
func normalizeRune(r rune) rune {
	switch {
	case r >= 0xFF01 && r <= 0xFF5E:
		return r - 0xFF01 + 0x21
	case r == 0x3000: // ideographic space
		return ' '
	}
	return r
}

// isCJK reports whether r belongs to a script indexed as n-grams.
// The prolonged sound mark and iteration marks stay inside CJK runs.
func isCJK(r rune) bool {
	switch r {
	case 0x30FC, 0x309D, 0x309E, 0x30FD, 0x30FE: // ー ゝ ゞ ヽ ヾ
		return true
	}
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana)
}
