package pipeline

import "math/rand/v2"

// Shuffle places the correct answer and the three wrong answers of c into
// Option A..D in a uniformly random order and sets Answer to the letter that
// now holds the correct text. A nil r uses the global generator.
func Shuffle(c Candidate, source string, r *rand.Rand) QuizItem {
	opts := [4]string{c.Correct, c.Wrong[0], c.Wrong[1], c.Wrong[2]}
	correct := permute(&opts, 0, r)

	item := QuizItem{
		Question: c.Question,
		Answer:   Letters[correct],
		Source:   source,
	}
	item.setOptions(opts)
	return item
}

// Reshuffle permutes an already-labeled item, keeping Answer on the correct text.
// An item whose Answer is not A..D is returned unchanged.
func Reshuffle(item QuizItem, r *rand.Rand) QuizItem {
	idx := letterIndex(item.Answer)
	if idx < 0 {
		return item
	}
	opts := item.Options()
	correct := permute(&opts, idx, r)
	item.setOptions(opts)
	item.Answer = Letters[correct]
	return item
}

// permute runs Fisher-Yates over opts and returns the new position of the
// element that started at track.
func permute(opts *[4]string, track int, r *rand.Rand) int {
	intN := rand.IntN
	if r != nil {
		intN = r.IntN
	}
	for i := len(opts) - 1; i > 0; i-- {
		j := intN(i + 1)
		opts[i], opts[j] = opts[j], opts[i]
		switch track {
		case i:
			track = j
		case j:
			track = i
		}
	}
	return track
}
