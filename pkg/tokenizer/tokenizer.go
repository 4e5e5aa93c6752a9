package tokenizer

import (
	"strings"
)

// Counter estimates the number of tokens in a piece of text. The metrics tap
// uses a Counter only when the backend omits per-chunk counts, so estimates
// need to be cheap rather than exact.
type Counter func(text string) int

// Estimate is the default Counter: roughly 4/3 tokens per whitespace word,
// which tracks English text closely enough for dashboard numbers.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return 1
	}
	return max(len(words)*4/3, 1)
}
