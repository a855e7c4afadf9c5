package chat

import "github.com/lumochat/chat-engine/internal/ai"

// AssembleContext builds the ordered request payload for one turn:
// prompt template messages first (stored order), then history flipped from the
// store's newest-first order back to chronological, then the new user input
// last. It is pure; callers fetch promptMsgs and historyDesc themselves.
//
// History entries whose text is empty (a failed assistant turn) contribute
// their ErrorInfo instead, so the model still sees that something went wrong
// at that point in the conversation.
//
// The returned count is the number of history messages actually included,
// reported in telemetry as actualContextLength.
func AssembleContext(promptMsgs []PromptMessage, historyDesc []Message, draft string) ([]ai.Message, int) {
	out := make([]ai.Message, 0, len(promptMsgs)+len(historyDesc)+1)

	for _, pm := range promptMsgs {
		out = append(out, ai.Message{Role: string(pm.Role), Content: pm.Content})
	}

	for i := len(historyDesc) - 1; i >= 0; i-- {
		m := historyDesc[i]
		content := m.Text
		if content == "" {
			content = m.ErrorInfo
		}
		out = append(out, ai.Message{Role: string(m.Role), Content: content})
	}

	out = append(out, ai.Message{Role: ai.RoleUser, Content: draft})

	return out, len(historyDesc)
}

// historyLimit maps a requested context length onto a store fetch limit.
// Zero disables history entirely; ContextUnbounded fetches everything the
// store will give us.
func historyLimit(contextLength int) (limit int, fetch bool) {
	switch {
	case contextLength == 0:
		return 0, false
	case contextLength == ContextUnbounded:
		return maxHistoryFetch, true
	case contextLength < 0:
		return 0, false
	default:
		return contextLength, true
	}
}
