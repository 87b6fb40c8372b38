package pipeline

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCandidate = Candidate{
	Question: "What is the capital of Malaysia?",
	Correct:  "Kuala Lumpur",
	Wrong:    [3]string{"Penang", "Johor Bahru", "Ipoh"},
}

func assertPermutationOf(t *testing.T, c Candidate, it QuizItem) {
	t.Helper()
	opts := it.Options()
	got := slices.Clone(opts[:])
	want := []string{c.Correct, c.Wrong[0], c.Wrong[1], c.Wrong[2]}
	slices.Sort(got)
	slices.Sort(want)
	require.Equal(t, want, got, "options must be a permutation of the answers")
	require.Equal(t, c.Correct, it.CorrectText(), "Answer must name the correct text")
}

func TestShufflePreservesAnswers(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		it := Shuffle(testCandidate, "https://example.com/a", r)
		assertPermutationOf(t, testCandidate, it)
		assert.Equal(t, testCandidate.Question, it.Question)
		assert.Equal(t, "https://example.com/a", it.Source)
	}
}

func TestShuffleNilRandUsesGlobal(t *testing.T) {
	it := Shuffle(testCandidate, "", nil)
	assertPermutationOf(t, testCandidate, it)
}

func TestShuffleUnbiased(t *testing.T) {
	const trials = 40000
	r := rand.New(rand.NewPCG(42, 1024))

	counts := map[string]int{}
	positions := [4]map[string]int{{}, {}, {}, {}}
	for i := 0; i < trials; i++ {
		it := Shuffle(testCandidate, "", r)
		counts[it.Answer]++
		for p, o := range it.Options() {
			positions[p][o]++
		}
	}

	expected := trials / 4
	tolerance := expected / 20 // ±5%
	for _, l := range Letters {
		assert.InDelta(t, expected, counts[l], float64(tolerance), "letter %s", l)
	}
	// every text should land in every slot about equally often, not just the correct one
	for p := range positions {
		for _, text := range []string{testCandidate.Correct, testCandidate.Wrong[0], testCandidate.Wrong[1], testCandidate.Wrong[2]} {
			assert.InDelta(t, expected, positions[p][text], float64(tolerance), "slot %s text %q", Letters[p], text)
		}
	}
}

func TestReshuffleKeepsAnswerOnCorrectText(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	labeled := QuizItem{
		Question: "Q?",
		OptionA:  "w1", OptionB: "w2", OptionC: "right", OptionD: "w3",
		Answer: "C",
		Source: "https://example.com",
	}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		it := Reshuffle(labeled, r)
		assert.Equal(t, "right", it.CorrectText())
		assert.Equal(t, labeled.Source, it.Source)
		seen[it.Answer] = true
	}
	assert.Len(t, seen, 4, "correct answer should move to every letter")
}

func TestReshuffleInvalidAnswerUnchanged(t *testing.T) {
	bad := QuizItem{Question: "Q?", OptionA: "a", OptionB: "b", OptionC: "c", OptionD: "d", Answer: "E"}
	assert.Equal(t, bad, Reshuffle(bad, nil))
}
