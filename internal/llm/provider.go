// Package llm abstracts the hosted language-model providers behind a
// single Generate call. The extractor, retrieval and consolidation
// layers all speak to this interface; which vendor actually serves the
// request is a deployment decision.
package llm

import (
	"context"
	"encoding/json"
)

// Provider serves single-turn structured generation. Implementations
// wrap one vendor SDK; decorators layer retry, breaker and logging on
// top without the callers knowing.
type Provider interface {
	// Generate sends the request and returns the model's output. When
	// the request carries a Schema the returned Content is JSON already
	// validated against it; otherwise Content holds the raw text.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID reports the configured model identifier.
	ModelID() string
}

// Request is one generation call.
type Request struct {
	// System sets the model's role and constraints for this call.
	System string

	// Messages is the conversation so far. Most calls in this codebase
	// are single-turn and carry exactly one user message.
	Messages []Message

	// Schema, when set, switches the provider to its native structured
	// output mode and the response is validated against it. Nil means
	// free text.
	Schema *Schema

	// MaxTokens caps the response length.
	MaxTokens int

	// Temperature in [0,1]; zero means deterministic.
	Temperature float64
}

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Role identifies the message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema names and defines the JSON shape a structured call must return.
type Schema struct {
	// Name is a kebab-case identifier, e.g. "memory-extraction". Used
	// as the schema name on the wire and as the compile-cache key.
	Name string

	// Description tells the model what the schema represents.
	Description string

	// Definition is the JSON Schema as a nested map.
	Definition map[string]any
}

// Response is the model's output for one request.
type Response struct {
	// Content is validated JSON when the request had a Schema, or the
	// raw text otherwise.
	Content json.RawMessage

	// Usage is the token accounting for this call.
	Usage Usage

	// Model is the model that actually served the request.
	Model string

	// StopReason is normalized across vendors: "end", "max_tokens" or
	// "error".
	StopReason string
}

// Usage counts tokens for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
