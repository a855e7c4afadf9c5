package ai

import "context"

// EventType discriminates stream events on the channel projection.
type EventType string

const (
	EventStart    EventType = "start"
	EventDelta    EventType = "delta"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one callback re-expressed as a value, for consumers that prefer a
// cancellable channel over the Handlers contract.
type Event struct {
	Type       EventType
	Delta      string
	Cumulative string
	Final      string
	Err        error
}

// Events runs gw in a goroutine and projects its callbacks onto a channel.
// The channel preserves callback order and closes after the terminal event.
// Cancelling ctx abandons delivery; the gateway itself also observes ctx
// through its request.
func Events(ctx context.Context, gw Gateway, msgs []Message, cfg StreamingConfig) <-chan Event {
	out := make(chan Event, 16)

	send := func(e Event) {
		select {
		case out <- e:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)
		gw.StreamChatCompletion(ctx, msgs, cfg, Handlers{
			OnStart: func() {
				send(Event{Type: EventStart})
			},
			OnDelta: func(delta, cumulative string) {
				send(Event{Type: EventDelta, Delta: delta, Cumulative: cumulative})
			},
			OnComplete: func(final string) {
				send(Event{Type: EventComplete, Final: final})
			},
			OnError: func(err error) {
				send(Event{Type: EventError, Err: err})
			},
		})
	}()

	return out
}
