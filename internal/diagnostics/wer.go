package diagnostics

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// WordErrors is a word-level alignment of a hypothesis against a reference.
type WordErrors struct {
	Rate           float64 `json:"rate"`
	Substitutions  int     `json:"substitutions"`
	Insertions     int     `json:"insertions"`
	Deletions      int     `json:"deletions"`
	ReferenceWords int     `json:"reference_words"`
}

type edits struct {
	sub, ins, del int
}

func (e edits) cost() int { return e.sub + e.ins + e.del }

// Score computes the word error rate of hypothesis against reference. Words
// are compared case- and accent-insensitively with punctuation removed;
// dashes separate words. An empty reference scores zero.
func Score(reference, hypothesis string) WordErrors {
	ref := words(reference)
	hyp := words(hypothesis)
	if len(ref) == 0 {
		return WordErrors{}
	}

	// Each cell carries the edit counts of its cheapest alignment, so only
	// two rows are kept.
	prev := make([]edits, len(hyp)+1)
	cur := make([]edits, len(hyp)+1)
	for j := range prev {
		prev[j] = edits{ins: j}
	}

	for i := 1; i <= len(ref); i++ {
		cur[0] = edits{del: i}
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				cur[j] = prev[j-1]
				continue
			}
			best := prev[j-1]
			best.sub++
			if del := prev[j]; del.cost()+1 < best.cost() {
				best = del
				best.del++
			}
			if ins := cur[j-1]; ins.cost()+1 < best.cost() {
				best = ins
				best.ins++
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}

	e := prev[len(hyp)]
	return WordErrors{
		Rate:           float64(e.cost()) / float64(len(ref)),
		Substitutions:  e.sub,
		Insertions:     e.ins,
		Deletions:      e.del,
		ReferenceWords: len(ref),
	}
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func words(s string) []string {
	folded, _, err := transform.String(foldAccents, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	folded = strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Pd, r):
			return ' '
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			return -1
		}
		return r
	}, folded)
	return strings.Fields(folded)
}
