package ai

import (
	"context"
	"fmt"
)

// UnsupportedGateway is the fallback for provider kinds nobody registered. It
// reports the problem through the normal error path instead of crashing the
// turn, so a chat pointing at a stale provider record still degrades to an
// error-status message.
type UnsupportedGateway struct {
	Kind string
}

func (g *UnsupportedGateway) StreamChatCompletion(ctx context.Context, msgs []Message, cfg StreamingConfig, h Handlers) {
	h.fail(fmt.Errorf("unsupported provider kind: %s", g.Kind))
}
