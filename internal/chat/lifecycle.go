package chat

import (
	"time"

	"github.com/lumochat/chat-engine/pkg/log"
)

// Lifecycle transitions for a single message. Every mutation of a streaming
// message's status, text, and timing goes through these functions; they are
// called only from the orchestrator's callback goroutine, which the gateway
// contract guarantees is serialized, so no locking happens here.
//
// Invalid transitions are rejected and logged. They never panic, never touch
// Text, and never re-apply a timestamp: StartedAt and EndedAt are each set at
// most once per message.

// MarkUserSent finalizes the user's half of the turn. Fired lazily on the
// first gateway callback of any kind, which coalesces "request acknowledged"
// with "assistant started responding".
func MarkUserSent(m *Message) bool {
	if m.Role != RoleUser || m.Status != StatusSending {
		if m.Status != StatusSent {
			log.Warnw("rejected transition", "id", m.ID, "role", m.Role, "from", m.Status, "to", StatusSent)
		}
		return false
	}
	m.Status = StatusSent
	return true
}

// ApplyDelta appends one streamed fragment to an assistant message. The first
// delta moves thinking -> typing and stamps StartedAt.
func ApplyDelta(m *Message, delta string, now time.Time) bool {
	switch {
	case m.Role != RoleAssistant:
		log.Warnw("rejected transition", "id", m.ID, "role", m.Role, "from", m.Status, "to", StatusTyping)
		return false
	case m.Status == StatusThinking:
		m.Status = StatusTyping
	case m.Status == StatusTyping:
		// stay
	default:
		log.Warnw("rejected transition", "id", m.ID, "role", m.Role, "from", m.Status, "to", StatusTyping)
		return false
	}

	m.Text += delta
	if m.Meta.StartedAt == nil {
		t := now
		m.Meta.StartedAt = &t
	}
	return true
}

// MarkReceived completes an assistant message and stamps EndedAt.
func MarkReceived(m *Message, now time.Time) bool {
	if m.Role != RoleAssistant || (m.Status != StatusTyping && m.Status != StatusThinking) {
		log.Warnw("rejected transition", "id", m.ID, "role", m.Role, "from", m.Status, "to", StatusReceived)
		return false
	}
	m.Status = StatusReceived
	if m.Meta.EndedAt == nil {
		t := now
		m.Meta.EndedAt = &t
	}
	return true
}

// MarkError fails a non-terminal message, preserving any partially streamed
// text. ErrorInfo accumulates rather than overwrites so repeated failures on
// the same turn stay visible.
func MarkError(m *Message, errInfo, errKind string, now time.Time) bool {
	switch m.Status {
	case StatusSending, StatusThinking, StatusTyping:
		// allowed
	default:
		log.Warnw("rejected transition", "id", m.ID, "role", m.Role, "from", m.Status, "to", StatusError)
		return false
	}

	m.Status = StatusError
	m.ErrorInfo += errInfo
	m.ErrorKind = errKind
	if m.Meta.EndedAt == nil {
		t := now
		m.Meta.EndedAt = &t
	}
	return true
}
