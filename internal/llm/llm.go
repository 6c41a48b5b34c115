// Package llm defines the language-model collaborator contract used by the
// triage and extraction stages, plus the bounded retry policy shared by every
// call site that must validate model output before trusting it.
package llm

import "context"

// GenerateOptions controls a single model call.
type GenerateOptions struct {
	Temperature  float64
	MaxTokens    int
	JSONResponse bool
}

// Client generates a completion for a prompt. Implementations must honor the
// context deadline; callers always validate the returned content themselves.
type Client interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
