package pipeline

import (
	_ "embed"
	"fmt"
)

//go:embed fixtures/sample_quiz.json
var sampleQuizJSON []byte

// SampleQuiz returns the canned quiz served in debug mode. The payload is the
// same on every call regardless of the requested question count.
func SampleQuiz() (*Quiz, error) {
	var q Quiz
	if err := json.Unmarshal(sampleQuizJSON, &q); err != nil {
		return nil, fmt.Errorf("decode sample quiz: %w", err)
	}
	return &q, nil
}
