// Package llm defines the structured-generation port for the LLM provider.
package llm

import "context"

// Generator produces a validated structured object from a prompt. The
// out argument must be a pointer; implementations unmarshal the model's
// JSON response into it and reject responses that do not parse.
type Generator interface {
	GenerateObject(ctx context.Context, systemPrompt, userPrompt string, out any) error
}
