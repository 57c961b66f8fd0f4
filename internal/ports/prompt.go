package ports

import "context"

// PromptGenerator produces the next user prompt for a chat turn.
// Implementations must not block indefinitely and must return a fixed
// fallback prompt instead of failing.
type PromptGenerator interface {
	NextPrompt(ctx context.Context) string
}
