// Package bus carries fire-and-forget notifications from the chat engine to
// whatever is rendering it. Publish failures are logged, never propagated; a
// lost notification costs a UI refresh, not data.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	// KindNew: a turn was submitted and its placeholder pair exists.
	KindNew Kind = "new"
	// KindEOF: the assistant turn completed.
	KindEOF Kind = "eof"
	// KindErr: the assistant turn failed.
	KindErr Kind = "err"
	// KindCountChanged: the message list was mutated outside streaming, e.g.
	// a bulk delete.
	KindCountChanged Kind = "countChanged"
)

type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ChatID    string    `json:"chat_id"`
	MessageID uint64    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent stamps id and time.
func NewEvent(kind Kind, chatID string, messageID uint64) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		ChatID:    chatID,
		MessageID: messageID,
		At:        time.Now(),
	}
}

type Bus interface {
	Publish(ctx context.Context, e Event)
}

// Memory is an in-process Bus fanning out to subscriber channels. Slow
// subscribers drop events instead of blocking the publisher.
type Memory struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewMemory() *Memory {
	return &Memory{}
}

// Subscribe returns a buffered channel receiving all future events.
func (b *Memory) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Memory) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Nop discards everything; handy default for tests and the worker.
type Nop struct{}

func (Nop) Publish(ctx context.Context, e Event) {}
