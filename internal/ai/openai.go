package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// The chat-completions wire family is shared by the OpenAI and OpenRouter
// adapters; each adapter owns its own request construction and headers.

type completionsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webSearchOptions struct {
	SearchContextSize string `json:"search_context_size,omitempty"`
}

type completionsRequest struct {
	Model            string               `json:"model"`
	Messages         []completionsMessage `json:"messages"`
	Stream           bool                 `json:"stream"`
	Temperature      *float64             `json:"temperature,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	MaxTokens        *int                 `json:"max_tokens,omitempty"`
	WebSearchOptions *webSearchOptions    `json:"web_search_options,omitempty"`
}

type completionsChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newCompletionsRequest(msgs []Message, cfg StreamingConfig) completionsRequest {
	out := completionsRequest{
		Model:       cfg.ModelID,
		Stream:      true,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}
	out.Messages = make([]completionsMessage, 0, len(msgs))
	for _, m := range msgs {
		out.Messages = append(out.Messages, completionsMessage{Role: m.Role, Content: m.Content})
	}
	if cfg.WebSearch.Enabled {
		out.WebSearchOptions = &webSearchOptions{SearchContextSize: string(cfg.WebSearch.ContextSize)}
	}
	return out
}

// streamCompletions performs req and decodes the SSE body, firing h in order.
// The caller has already validated config; every failure path ends in exactly
// one terminal callback.
func streamCompletions(client *http.Client, req *http.Request, provider string, h Handlers) {
	resp, err := client.Do(req)
	if err != nil {
		h.fail(&TransportError{Provider: provider, Network: true, Err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		h.fail(&TransportError{Provider: provider, Err: errors.New(msg)})
		return
	}

	h.start()

	sc := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	var cum strings.Builder
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			h.complete(cum.String())
			return
		}
		var decoded completionsChunk
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			h.fail(&TransportError{Provider: provider, Err: err})
			return
		}
		if decoded.Error != nil && decoded.Error.Message != "" {
			h.fail(&TransportError{Provider: provider, Err: errors.New(decoded.Error.Message)})
			return
		}
		if len(decoded.Choices) == 0 {
			continue
		}
		delta := decoded.Choices[0].Delta.Content
		if delta != "" {
			cum.WriteString(delta)
			h.delta(delta, cum.String())
		}
	}

	if err := sc.Err(); err != nil {
		h.fail(&TransportError{Provider: provider, Network: true, Err: err})
		return
	}

	// Stream ended without a [DONE] marker; treat accumulated text as final.
	h.complete(cum.String())
}

// OpenAIGateway speaks the OpenAI chat-completions SSE protocol. It is the
// reference adapter for the family; any backend exposing the same endpoint
// shape works through it by overriding Endpoint.
type OpenAIGateway struct {
	Client *http.Client
}

func NewOpenAIGateway() *OpenAIGateway {
	return &OpenAIGateway{Client: &http.Client{Timeout: 5 * time.Minute}}
}

func (g *OpenAIGateway) StreamChatCompletion(ctx context.Context, msgs []Message, cfg StreamingConfig, h Handlers) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		h.fail(&ConfigError{Provider: "openai", Field: "api key"})
		return
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		h.fail(&ConfigError{Provider: "openai", Field: "model id"})
		return
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	b, err := json.Marshal(newCompletionsRequest(msgs, cfg))
	if err != nil {
		h.fail(&TransportError{Provider: "openai", Err: err})
		return
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(endpoint, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		h.fail(&TransportError{Provider: "openai", Err: err})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	streamCompletions(g.Client, req, "openai", h)
}
