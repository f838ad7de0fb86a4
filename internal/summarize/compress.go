package summarize

import (
	"sort"
	"strings"
)

// stopwords carry little meaning and are dropped first during compression.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "and": true, "or": true, "but": true,
	"that": true, "this": true, "these": true, "those": true,
	"it": true, "its": true, "as": true, "by": true, "from": true,
	"so": true, "if": true, "then": true, "than": true, "just": true,
	"very": true, "really": true, "quite": true, "some": true,
	"do": true, "does": true, "did": true, "have": true, "has": true,
	"had": true, "will": true, "would": true, "can": true, "could": true,
	"i": true, "you": true, "we": true, "they": true, "my": true,
	"your": true, "our": true, "me": true, "them": true,
}

// structural reports whether a token must survive compression because it
// carries turn or sentence structure.
func structural(tok string) bool {
	if strings.Contains(tok, "**") || strings.Contains(tok, ":") {
		return true
	}
	return strings.ContainsAny(tok, ".?!")
}

// Compress performs deterministic lossy compression of turn-labeled text to
// roughly rate of its original word count. Newlines, turn labels, and
// sentence terminators always survive, so the output keeps the shape of the
// conversation even at aggressive rates. Stopwords go first, then repeated
// occurrences of words already kept; the first occurrence of every content
// word outranks any repeat or stopword.
func Compress(text string, rate float64) string {
	if rate >= 1.0 || text == "" {
		return text
	}
	if rate <= 0 {
		rate = 0.1
	}

	lines := strings.Split(text, "\n")
	type token struct {
		line, pos int
		word      string
	}
	var tokens []token
	for li, line := range lines {
		for pi, word := range strings.Fields(line) {
			tokens = append(tokens, token{line: li, pos: pi, word: word})
		}
	}
	target := int(float64(len(tokens)) * rate)
	if target >= len(tokens) {
		return text
	}

	// Lower score drops first. Structural tokens are unconditionally kept;
	// the k-th occurrence of a content word scores 1/k, so repeats go
	// before any word's first appearance.
	type scored struct {
		idx int
		s   float64
	}
	occurrences := map[string]int{}
	ranked := make([]scored, len(tokens))
	for i, t := range tokens {
		var s float64
		norm := normalizeToken(t.word)
		switch {
		case structural(t.word):
			s = 1e9
		case stopwords[norm]:
			s = 0
		default:
			occurrences[norm]++
			s = 1.0 / float64(occurrences[norm])
		}
		ranked[i] = scored{idx: i, s: s}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].s > ranked[j].s })

	keep := make([]bool, len(tokens))
	for i := 0; i < target && i < len(ranked); i++ {
		keep[ranked[i].idx] = true
	}
	for i, t := range tokens {
		if structural(t.word) {
			keep[i] = true
		}
	}

	kept := make([][]string, len(lines))
	for i, t := range tokens {
		if keep[i] {
			kept[t.line] = append(kept[t.line], t.word)
		}
	}
	out := make([]string, 0, len(lines))
	for _, words := range kept {
		out = append(out, strings.Join(words, " "))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func normalizeToken(w string) string {
	return strings.ToLower(strings.Trim(w, ".,!?:;\"'()*"))
}
