package summarize

import (
	"strings"
	"testing"
)

const sample = `**User:** can you fix the login redirect bug in the auth service? it has been broken since the deploy.

**Assistant:** The redirect handler was dropping the return path. I have restored it and added a regression test.`

func TestCompressDeterministic(t *testing.T) {
	a := Compress(sample, 0.5)
	b := Compress(sample, 0.5)
	if a != b {
		t.Errorf("compression not deterministic:\n%q\n%q", a, b)
	}
}

func TestCompressReducesWordCount(t *testing.T) {
	original := len(strings.Fields(sample))
	compressed := len(strings.Fields(Compress(sample, 0.5)))
	if compressed >= original {
		t.Errorf("compressed %d words >= original %d", compressed, original)
	}
}

func TestCompressKeepsStructure(t *testing.T) {
	out := Compress(sample, 0.3)
	if !strings.Contains(out, "**User:**") {
		t.Error("turn label dropped")
	}
	if !strings.Contains(out, "**Assistant:**") {
		t.Error("turn label dropped")
	}
	// Line structure survives even aggressive rates.
	if strings.Count(out, "\n") != strings.Count(sample, "\n") {
		t.Errorf("line count changed: %d vs %d",
			strings.Count(out, "\n"), strings.Count(sample, "\n"))
	}
}

func TestCompressFullRateIsIdentity(t *testing.T) {
	if out := Compress(sample, 1.0); out != sample {
		t.Error("rate 1.0 should not modify text")
	}
}

func TestCompressDropsStopwordsFirst(t *testing.T) {
	out := strings.ToLower(Compress(sample, 0.5))
	for _, kept := range []string{"redirect", "auth"} {
		if !strings.Contains(out, kept) {
			t.Errorf("content word %q dropped before stopwords", kept)
		}
	}
}

func TestCompressKeepsFirstOccurrenceOfRepeats(t *testing.T) {
	// "redirect" repeats; its first occurrence must outlive every stopword
	// even when the later occurrences are dropped.
	text := "the redirect handler has a redirect loop and the redirect never ends because of the redirect"
	out := strings.Fields(Compress(text, 0.4))

	count := 0
	for _, w := range out {
		if w == "redirect" {
			count++
		}
		if stopwords[w] {
			t.Errorf("stopword %q survived while repeats were dropped", w)
		}
	}
	if count == 0 {
		t.Error("every occurrence of a repeated content word was dropped")
	}
	if count >= 4 {
		t.Error("no repeated occurrence was dropped at rate 0.4")
	}
}
