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

// GeminiGateway speaks the generativelanguage streamGenerateContent protocol.
// Gemini has no system role in contents: system messages are folded into
// systemInstruction and assistant maps to "model". The wire may deliver
// cumulative text per chunk, so the adapter diffs against the previously
// accumulated text before emitting a delta; consumers only ever see
// incremental fragments.
type GeminiGateway struct {
	Client *http.Client
}

func NewGeminiGateway() *GeminiGateway {
	return &GeminiGateway{Client: &http.Client{Timeout: 5 * time.Minute}}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiChunk struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newGeminiRequest(msgs []Message, cfg StreamingConfig) geminiRequest {
	var out geminiRequest

	var sys []string
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			sys = append(sys, m.Content)
		case RoleAssistant:
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(sys) > 0 {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(sys, "\n\n")}}}
	}

	if cfg.Temperature != nil || cfg.TopP != nil || cfg.MaxTokens != nil {
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			MaxOutputTokens: cfg.MaxTokens,
		}
	}
	return out
}

func (g *GeminiGateway) StreamChatCompletion(ctx context.Context, msgs []Message, cfg StreamingConfig, h Handlers) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		h.fail(&ConfigError{Provider: "gemini", Field: "api key"})
		return
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		h.fail(&ConfigError{Provider: "gemini", Field: "model id"})
		return
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com"
	}

	b, err := json.Marshal(newGeminiRequest(msgs, cfg))
	if err != nil {
		h.fail(&TransportError{Provider: "gemini", Err: err})
		return
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		strings.TrimRight(endpoint, "/"), cfg.ModelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		h.fail(&TransportError{Provider: "gemini", Err: err})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cfg.APIKey)

	resp, err := g.Client.Do(req)
	if err != nil {
		h.fail(&TransportError{Provider: "gemini", Network: true, Err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		h.fail(&TransportError{Provider: "gemini", Err: errors.New(msg)})
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

		var decoded geminiChunk
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			h.fail(&TransportError{Provider: "gemini", Err: err})
			return
		}
		if decoded.Error != nil && decoded.Error.Message != "" {
			h.fail(&TransportError{Provider: "gemini", Err: errors.New(decoded.Error.Message)})
			return
		}
		if len(decoded.Candidates) == 0 {
			continue
		}

		var text strings.Builder
		for _, p := range decoded.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
		delta := diffCumulative(cum.String(), text.String())
		if delta != "" {
			cum.WriteString(delta)
			h.delta(delta, cum.String())
		}
	}

	if err := sc.Err(); err != nil {
		h.fail(&TransportError{Provider: "gemini", Network: true, Err: err})
		return
	}

	h.complete(cum.String())
}

// diffCumulative returns the new suffix when incoming repeats the accumulated
// text (cumulative wire chunks); otherwise incoming is already incremental and
// is returned whole.
func diffCumulative(prev, incoming string) string {
	if prev != "" && strings.HasPrefix(incoming, prev) {
		return incoming[len(prev):]
	}
	return incoming
}
