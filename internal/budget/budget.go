// Package budget estimates token usage and trims conversation history so a
// request fits the model's context window. Because the backend model is
// configurable and tokenizers differ, the estimate is a character heuristic:
// 1 token ≈ 4 characters of English prose. This deliberately under-estimates
// to leave headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens,
	// conservative enough for 8k-context models while leaving room for the
	// answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
// Non-empty strings always estimate to at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, including a small per-message protocol overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// ~4 tokens of per-message framing in most chat APIs.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory removes the oldest messages from history until the estimated
// token count of fixed + history fits within maxTokens. fixed holds messages
// that must survive intact (system prompt, retrieved context, the current
// user question); history holds prior turns that may be dropped oldest-first.
//
// Returns the trimmed history slice. If even an empty history exceeds the
// budget the empty slice is returned — fixed messages are never dropped here.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	// History is typically short; a linear scan dropping oldest is clear
	// and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
