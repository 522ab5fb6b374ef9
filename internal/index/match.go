package index

import (
	"strings"
)

// BuildMatch converts free query text into an FTS5 MATCH expression over
// the pre-tokenized body column. All tokens are required (implicit AND).
//
// Prefix matching: a CJK run shorter than the n-gram width cannot form a
// full posting token, so its token is matched as a prefix ("相*").
// The final token of the query is also prefix-matched when the query
// does not end in whitespace, which makes 2-3 character partial terms
// work the way incremental typing expects.
//
// Returns "" when the query yields no tokens (caller degrades to a
// metadata scan).
func (t *Tokenizer) BuildMatch(query string) string {
	runs := t.split(query)
	if len(runs) == 0 {
		return ""
	}
	trailingPartial := !endsInSeparator(query)

	var terms []string
	for ri, r := range runs {
		last := ri == len(runs)-1
		if r.cjk {
			toks := ngrams(r.runes, t.ngram)
			for ti, tok := range toks {
				prefix := len(r.runes) < t.ngram || (last && trailingPartial && ti == len(toks)-1)
				terms = append(terms, matchTerm(tok, prefix))
			}
			continue
		}
		terms = append(terms, matchTerm(string(r.runes), last && trailingPartial))
	}
	return strings.Join(terms, " ")
}

// matchTerm quotes a token for FTS5, optionally as a prefix term.
func matchTerm(tok string, prefix bool) string {
	quoted := `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	if prefix {
		return quoted + "*"
	}
	return quoted
}

func endsInSeparator(s string) bool {
	rs := []rune(s)
	if len(rs) == 0 {
		return true
	}
	last := normalizeRune(rs[len(rs)-1])
	return last == ' ' || last == '\t' || last == '\n'
}
