package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Ollama, OpenAI-compatible) implement this interface.
// No retry is built in; retries are the caller's responsibility.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
