package env

import (
	"strconv"
	"strings"
)

// ParseScore reads the score indicator's text. Anything that is not a plain
// non-negative integer, including empty text and placeholders like "—", is 0.
func ParseScore(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	for i := 0; i < len(text); i++ {
		if text[i] < '0' || text[i] > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}

// Reward is the score delta minus a constant per-step penalty of one.
func Reward(previous, current int) float64 {
	return float64(current - previous - 1)
}
