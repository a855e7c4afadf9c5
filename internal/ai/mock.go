package ai

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// mockEndMarker terminates every mock response so the UI can tell a mock turn
// from a real one at a glance.
const mockEndMarker = "(end)"

var mockSalad = []string{
	"alpha", "breeze", "copper", "drift", "ember",
	"fable", "glint", "harbor", "iris", "jasper",
	"kelp", "lumen", "mesa", "nectar", "onyx",
	"pebble", "quartz", "ripple", "saffron", "talon",
}

// MockGateway is a deterministic offline backend: it emits a fixed word salad
// character by character with a fixed delay between characters. The word count
// comes from cfg.WordCount, else from the first integer literal found in the
// outgoing user text, else DefaultWordCount. It needs no credentials.
type MockGateway struct {
	// Delay between emitted characters. Zero means no pacing; tests use that.
	Delay            time.Duration
	DefaultWordCount int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		Delay:            2 * time.Millisecond,
		DefaultWordCount: 30,
	}
}

func (g *MockGateway) StreamChatCompletion(ctx context.Context, msgs []Message, cfg StreamingConfig, h Handlers) {
	n := cfg.WordCount
	if n <= 0 {
		n = firstInt(lastUserText(msgs))
	}
	if n <= 0 {
		n = g.DefaultWordCount
	}

	var full strings.Builder
	for i := 0; i < n; i++ {
		full.WriteString(mockSalad[i%len(mockSalad)])
		full.WriteByte(' ')
	}
	full.WriteString(mockEndMarker)

	h.start()

	var cum strings.Builder
	for _, r := range full.String() {
		if err := ctx.Err(); err != nil {
			h.fail(err)
			return
		}
		if g.Delay > 0 {
			time.Sleep(g.Delay)
		}
		delta := string(r)
		cum.WriteString(delta)
		h.delta(delta, cum.String())
	}

	h.complete(cum.String())
}

func lastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// firstInt scans s for the first run of digits and parses it. Returns 0 when
// no integer literal is present.
func firstInt(s string) int {
	start := -1
	for i, r := range s {
		if unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, _ := strconv.Atoi(s[start:i])
			return n
		}
	}
	if start >= 0 {
		n, _ := strconv.Atoi(s[start:])
		return n
	}
	return 0
}
