package convo

import "unicode/utf8"

// TokenCounter estimates token usage for budget tracking. The heuristic
// is calibrated at ~4 characters per token.
type TokenCounter struct {
	charsPerToken float64
}

// NewTokenCounter creates a counter with default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{charsPerToken: 4.0}
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	// Rune count for proper unicode handling.
	runeCount := utf8.RuneCountInString(s)
	return int(float64(runeCount) / tc.charsPerToken)
}

// CountMessage estimates tokens for a message including role overhead.
func (tc *TokenCounter) CountMessage(m Message) int {
	// Role and framing overhead.
	return 4 + tc.CountString(m.Content)
}
