// Package ai defines the uniform streaming contract between the chat
// orchestrator and the interchangeable model backends, plus one adapter per
// backend family.
package ai

import "context"

// Roles used across every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn handed to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WebSearchContextSize controls how much search context a provider that
// supports web search folds into the request.
type WebSearchContextSize string

const (
	WebSearchContextLow    WebSearchContextSize = "low"
	WebSearchContextMedium WebSearchContextSize = "medium"
	WebSearchContextHigh   WebSearchContextSize = "high"
)

// WebSearchConfig is honored only by adapters whose backend supports it.
type WebSearchConfig struct {
	Enabled     bool
	ContextSize WebSearchContextSize
}

// StreamingConfig carries the per-request knobs. Which fields are required
// depends on the adapter; validation failures are reported through
// Handlers.OnError before OnStart ever fires.
type StreamingConfig struct {
	APIKey   string
	ModelID  string
	Endpoint string

	// Sampling parameters; nil means backend default.
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// WordCount is only consumed by the mock adapter.
	WordCount int

	WebSearch WebSearchConfig
}

// Handlers receives the streamed response. An adapter guarantees:
//
//   - exactly one OnStart call, before any OnDelta;
//   - zero or more OnDelta calls, in order, never concurrently, all on the
//     goroutine that invoked StreamChatCompletion, so the consumer may mutate
//     shared state inside the callback without locking;
//   - exactly one terminal call, OnComplete or OnError, never both;
//   - cumulative is always the full accumulated text up to and including the
//     current delta, regardless of whether the wire sends incremental or
//     cumulative chunks.
//
// Nil handlers are allowed and skipped.
type Handlers struct {
	OnStart    func()
	OnDelta    func(delta, cumulative string)
	OnComplete func(final string)
	OnError    func(err error)
}

func (h Handlers) start() {
	if h.OnStart != nil {
		h.OnStart()
	}
}

func (h Handlers) delta(d, cum string) {
	if h.OnDelta != nil {
		h.OnDelta(d, cum)
	}
}

func (h Handlers) complete(final string) {
	if h.OnComplete != nil {
		h.OnComplete(final)
	}
}

func (h Handlers) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Gateway is the uniform streaming contract. StreamChatCompletion blocks until
// the terminal callback has returned.
type Gateway interface {
	StreamChatCompletion(ctx context.Context, messages []Message, cfg StreamingConfig, h Handlers)
}
