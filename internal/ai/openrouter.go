package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenRouterGateway speaks the same chat-completions SSE protocol as OpenAI
// plus OpenRouter's attribution headers and web-search options.
type OpenRouterGateway struct {
	SiteURL string
	AppName string
	Client  *http.Client
}

func NewOpenRouterGateway(siteURL, appName string) *OpenRouterGateway {
	return &OpenRouterGateway{
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (g *OpenRouterGateway) StreamChatCompletion(ctx context.Context, msgs []Message, cfg StreamingConfig, h Handlers) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		h.fail(&ConfigError{Provider: "openrouter", Field: "api key"})
		return
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		h.fail(&ConfigError{Provider: "openrouter", Field: "model id"})
		return
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://openrouter.ai/api/v1"
	}

	b, err := json.Marshal(newCompletionsRequest(msgs, cfg))
	if err != nil {
		h.fail(&TransportError{Provider: "openrouter", Err: err})
		return
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(endpoint, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		h.fail(&TransportError{Provider: "openrouter", Err: err})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	if g.SiteURL != "" {
		req.Header.Set("HTTP-Referer", g.SiteURL)
	}
	if g.AppName != "" {
		req.Header.Set("X-Title", g.AppName)
	}

	streamCompletions(g.Client, req, "openrouter", h)
}
