package diagnostics

import (
	"math"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		reference  string
		hypothesis string
		want       WordErrors
	}{
		{
			name:       "identical",
			reference:  "the cat sat on the mat",
			hypothesis: "the cat sat on the mat",
			want:       WordErrors{ReferenceWords: 6},
		},
		{
			name:       "substitution",
			reference:  "the cat sat on the mat",
			hypothesis: "the cat sit on the mat",
			want:       WordErrors{Rate: 1.0 / 6, Substitutions: 1, ReferenceWords: 6},
		},
		{
			name:       "insertion",
			reference:  "the cat sat",
			hypothesis: "the big cat sat",
			want:       WordErrors{Rate: 1.0 / 3, Insertions: 1, ReferenceWords: 3},
		},
		{
			name:       "deletion",
			reference:  "ask not what your country can do for you",
			hypothesis: "ask what your country can do for you",
			want:       WordErrors{Rate: 1.0 / 9, Deletions: 1, ReferenceWords: 9},
		},
		{
			name:       "case and punctuation",
			reference:  "Hello, World!",
			hypothesis: "hello world",
			want:       WordErrors{ReferenceWords: 2},
		},
		{
			name:       "accents folded",
			reference:  "Olá, você está bem? Ação!",
			hypothesis: "ola voce esta bem acao",
			want:       WordErrors{ReferenceWords: 5},
		},
		{
			name:       "dashes split words",
			reference:  "follow-up on the roll\u2014out",
			hypothesis: "follow up on the roll out",
			want:       WordErrors{ReferenceWords: 6},
		},
		{
			name:       "symbols dropped",
			reference:  "budget is $500 + tax",
			hypothesis: "budget is 500 tax",
			want:       WordErrors{ReferenceWords: 4},
		},
		{
			name:       "empty reference",
			reference:  "",
			hypothesis: "some words",
			want:       WordErrors{},
		},
		{
			name:       "empty hypothesis",
			reference:  "some words",
			hypothesis: "   ",
			want:       WordErrors{Rate: 1, Deletions: 2, ReferenceWords: 2},
		},
		{
			name:       "nothing matches",
			reference:  "the cat sat",
			hypothesis: "a dog ran",
			want:       WordErrors{Rate: 1, Substitutions: 3, ReferenceWords: 3},
		},
		{
			name:       "mixed",
			reference:  "the quick brown fox jumps over the lazy dog",
			hypothesis: "a quick brown cat jumps the lazy dog",
			want:       WordErrors{Rate: 3.0 / 9, Substitutions: 2, Deletions: 1, ReferenceWords: 9},
		},
		{
			name:       "hypothesis longer",
			reference:  "bom dia",
			hypothesis: "bom dia a todos",
			want:       WordErrors{Rate: 1, Insertions: 2, ReferenceWords: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.reference, tt.hypothesis)
			if math.Abs(got.Rate-tt.want.Rate) > 1e-9 {
				t.Errorf("Rate = %f, want %f", got.Rate, tt.want.Rate)
			}
			got.Rate, tt.want.Rate = 0, 0
			if got != tt.want {
				t.Errorf("Score() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
