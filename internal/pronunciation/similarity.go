package pronunciation

import (
	"math"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// phoneticThreshold is the minimum Jaro-Winkler score for a word whose
	// Double Metaphone codes overlap with the target word.
	phoneticThreshold = 0.70

	// fuzzyThreshold is the minimum Jaro-Winkler score for a word without
	// phonetic overlap.
	fuzzyThreshold = 0.85

	// lookahead is how many spoken words past the alignment cursor are tried
	// for each target word. It lets a single inserted filler word through.
	lookahead = 2
)

// Similarity is a local, model-free comparison of a transcript against the
// target phrase.
type Similarity struct {
	// Score is the share of target words recognised in the transcript, in
	// the range [0, 100].
	Score float64

	// Highlight holds the zero-based indices of target words that were not
	// recognised.
	Highlight []int
}

// Compare aligns the words of spoken against the words of target.
//
// Both strings are lower-cased and stripped of punctuation. Target words are
// walked in order; each is matched against the next few spoken words and
// accepted if the two are spelled alike (Jaro-Winkler) or sound alike (Double
// Metaphone plus a lower Jaro-Winkler bar). An empty target yields a score of
// zero.
func Compare(target, spoken string) Similarity {
	want := words(target)
	got := words(spoken)
	sim := Similarity{Highlight: []int{}}
	if len(want) == 0 {
		return sim
	}

	matched := 0
	cursor := 0
	for i, w := range want {
		found := -1
		for j := cursor; j < len(got) && j <= cursor+lookahead; j++ {
			if wordsMatch(w, got[j]) {
				found = j
				break
			}
		}
		if found < 0 {
			sim.Highlight = append(sim.Highlight, i)
			continue
		}
		matched++
		cursor = found + 1
	}

	score := float64(matched) / float64(len(want)) * 100
	sim.Score = math.Round(score*10) / 10
	return sim
}

// words lower-cases s, drops punctuation and splits on whitespace.
func words(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(s)
}

func wordsMatch(a, b string) bool {
	if a == b {
		return true
	}
	jw := matchr.JaroWinkler(a, b, false)
	if jw >= fuzzyThreshold {
		return true
	}
	return jw >= phoneticThreshold && soundAlike(a, b)
}

// soundAlike reports whether a and b share a Double Metaphone code.
func soundAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
