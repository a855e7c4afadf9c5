package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lumochat/chat-engine/internal/ai"
	"github.com/lumochat/chat-engine/internal/bus"
	"github.com/lumochat/chat-engine/pkg/log"
)

var (
	// ErrEmptyDraft: empty input never reaches context assembly.
	ErrEmptyDraft = errors.New("draft text is empty")
	// ErrTurnInFlight: one streaming turn per chat at a time; queue further
	// turns through TurnJob instead.
	ErrTurnInFlight = errors.New("chat already has a turn in flight")
)

// Orchestrator runs the end-to-end lifecycle of one user turn: resolve the
// chat's model and provider, assemble the context, persist the placeholder
// pair, stream, and drive the message state machine on every callback.
//
// Gateway errors are absorbed into an error-status assistant message; the
// submit caller only ever sees pre-dispatch failures.
type Orchestrator struct {
	repo     *Repo
	registry *ai.Registry
	bus      bus.Bus

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewOrchestrator(repo *Repo, registry *ai.Registry, b bus.Bus) *Orchestrator {
	if b == nil {
		b = bus.Nop{}
	}
	return &Orchestrator{
		repo:     repo,
		registry: registry,
		bus:      b,
		inflight: make(map[string]struct{}),
	}
}

func (o *Orchestrator) acquire(chatID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[chatID]; busy {
		return false
	}
	o.inflight[chatID] = struct{}{}
	return true
}

func (o *Orchestrator) release(chatID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, chatID)
}

// turn is one prepared request: placeholders persisted, context assembled,
// gateway selected. Everything after prepare goes through run.
type turn struct {
	o            *Orchestrator
	chatID       string
	userMsg      *Message
	assistantMsg *Message
	messages     []ai.Message
	cfg          ai.StreamingConfig
	gateway      ai.Gateway
}

// prepare resolves provider+model, assembles context, and synchronously
// persists the sending/thinking placeholder pair before any network call, so
// a crash mid-stream leaves a recoverable in-progress pair. The caller holds
// the in-flight slot.
func (o *Orchestrator) prepare(ctx context.Context, chatID, draft string) (*turn, error) {
	chat, err := o.repo.GetChatByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	model, provider, err := o.repo.ResolveModel(ctx, chat.Option.ModelEntityID)
	if err != nil {
		return nil, err
	}

	var promptMsgs []PromptMessage
	promptName := ""
	if chat.Option.PromptID != nil && *chat.Option.PromptID != "" {
		prompt, err := o.repo.GetPromptByPromptID(ctx, *chat.Option.PromptID)
		if err != nil {
			return nil, err
		}
		promptMsgs = prompt.Messages
		promptName = prompt.Name
	}

	var historyDesc []Message
	if limit, fetch := historyLimit(chat.Option.ContextLength); fetch {
		historyDesc, err = o.repo.RecentMessagesDesc(ctx, chatID, limit)
		if err != nil {
			return nil, err
		}
	}

	messages, actual := AssembleContext(promptMsgs, historyDesc, draft)

	meta := Meta{
		Model:               model.ModelID,
		PromptName:          promptName,
		ContextLength:       chat.Option.ContextLength,
		ActualContextLength: actual,
		Temperature:         chat.Option.Temperature,
		TopP:                chat.Option.TopP,
		MaxTokens:           chat.Option.MaxTokens,
	}

	userMsg, err := NewMessage(chatID, RoleUser, StatusSending, draft)
	if err != nil {
		return nil, err
	}
	userMsg.Meta = meta

	assistantMsg, err := NewMessage(chatID, RoleAssistant, StatusThinking, "")
	if err != nil {
		return nil, err
	}
	assistantMsg.Meta = meta

	if err := o.repo.CreateTurnPlaceholders(ctx, userMsg, assistantMsg); err != nil {
		return nil, err
	}

	// The submitted draft is no longer pending input.
	if err := o.repo.UpdateChatInput(ctx, chatID, ""); err != nil {
		log.Warnw("clear chat input", "chat_id", chatID, "error", err)
	}

	o.bus.Publish(ctx, bus.NewEvent(bus.KindNew, chatID, userMsg.ID))

	return &turn{
		o:            o,
		chatID:       chatID,
		userMsg:      userMsg,
		assistantMsg: assistantMsg,
		messages:     messages,
		cfg: ai.StreamingConfig{
			APIKey:      provider.APIKey,
			ModelID:     model.ModelID,
			Endpoint:    provider.Endpoint,
			Temperature: chat.Option.Temperature,
			TopP:        chat.Option.TopP,
			MaxTokens:   chat.Option.MaxTokens,
		},
		gateway: o.registry.GatewayFor(provider.Kind),
	}, nil
}

// run streams the turn and drives the state machine. forward, when non-nil,
// receives a copy of every gateway event for live consumers; it must not
// block for long. Returns the assistant message id and the terminal gateway
// error, already recorded on the message.
func (t *turn) run(ctx context.Context, forward func(ai.Event)) (uint64, error) {
	repo := t.o.repo
	emit := func(e ai.Event) {
		if forward != nil {
			forward(e)
		}
	}

	// The user's own message is finalized on the first callback of any kind:
	// a failed assistant turn never rolls the user's message back.
	userSent := false
	ensureUserSent := func() {
		if userSent {
			return
		}
		userSent = true
		if MarkUserSent(t.userMsg) {
			if err := repo.SaveMessage(ctx, t.userMsg); err != nil {
				log.Error("persist user message", err)
			}
		}
	}

	var terminalErr error

	t.gateway.StreamChatCompletion(ctx, t.messages, t.cfg, ai.Handlers{
		OnStart: func() {
			ensureUserSent()
			emit(ai.Event{Type: ai.EventStart})
		},
		OnDelta: func(delta, cumulative string) {
			ensureUserSent()
			if !ApplyDelta(t.assistantMsg, delta, time.Now()) {
				return
			}
			if err := repo.SaveMessage(ctx, t.assistantMsg); err != nil {
				log.Error("persist assistant delta", err)
			}
			emit(ai.Event{Type: ai.EventDelta, Delta: delta, Cumulative: cumulative})
		},
		OnComplete: func(final string) {
			ensureUserSent()
			// Some adapters hand the whole text only at completion; top up
			// whatever the deltas already accumulated.
			if len(final) > len(t.assistantMsg.Text) && strings.HasPrefix(final, t.assistantMsg.Text) {
				ApplyDelta(t.assistantMsg, final[len(t.assistantMsg.Text):], time.Now())
			}
			if MarkReceived(t.assistantMsg, time.Now()) {
				if err := repo.SaveMessage(ctx, t.assistantMsg); err != nil {
					log.Error("persist assistant message", err)
				}
			}
			t.o.bus.Publish(ctx, bus.NewEvent(bus.KindEOF, t.chatID, t.assistantMsg.ID))
			emit(ai.Event{Type: ai.EventComplete, Final: t.assistantMsg.Text})
		},
		OnError: func(err error) {
			ensureUserSent()
			terminalErr = err
			kind := ai.Classify(err)
			// Partial text streamed before the failure stays on the message.
			if MarkError(t.assistantMsg, err.Error(), string(kind), time.Now()) {
				if saveErr := repo.SaveMessage(ctx, t.assistantMsg); saveErr != nil {
					log.Error("persist assistant error", saveErr)
				}
			}
			log.Warnw("turn failed", "chat_id", t.chatID, "kind", kind, "error", err)
			t.o.bus.Publish(ctx, bus.NewEvent(bus.KindErr, t.chatID, t.assistantMsg.ID))
			emit(ai.Event{Type: ai.EventError, Err: err})
		},
	})

	return t.assistantMsg.ID, terminalErr
}

// SubmitTurn starts one turn and returns as soon as the placeholder pair is
// persisted; the stream completes in the background on a detached context, so
// a client navigating away never discards accumulated text. Errors after
// dispatch are absorbed into the assistant message.
func (o *Orchestrator) SubmitTurn(ctx context.Context, chatID, draft string) (userMsgID, assistantMsgID uint64, err error) {
	if strings.TrimSpace(draft) == "" {
		return 0, 0, ErrEmptyDraft
	}
	if !o.acquire(chatID) {
		return 0, 0, ErrTurnInFlight
	}

	t, err := o.prepare(ctx, chatID, draft)
	if err != nil {
		o.release(chatID)
		return 0, 0, err
	}

	go func() {
		defer o.release(chatID)
		_, _ = t.run(context.Background(), nil)
	}()

	return t.userMsg.ID, t.assistantMsg.ID, nil
}

// SubmitTurnStream runs one turn and exposes its gateway events on a channel
// for a live consumer (the SSE handler). The turn keeps streaming and
// persisting even if the consumer stops reading; events are then dropped, not
// the stream.
func (o *Orchestrator) SubmitTurnStream(ctx context.Context, chatID, draft string) (<-chan ai.Event, error) {
	if strings.TrimSpace(draft) == "" {
		return nil, ErrEmptyDraft
	}
	if !o.acquire(chatID) {
		return nil, ErrTurnInFlight
	}

	t, err := o.prepare(ctx, chatID, draft)
	if err != nil {
		o.release(chatID)
		return nil, err
	}

	events := make(chan ai.Event, 64)
	go func() {
		defer o.release(chatID)
		defer close(events)
		_, _ = t.run(context.Background(), func(e ai.Event) {
			select {
			case events <- e:
			default:
			}
		})
	}()

	return events, nil
}

// RunTurn executes one turn synchronously. The worker uses it for queued
// jobs; the returned error is the turn's terminal gateway error, already
// recorded on the assistant message.
func (o *Orchestrator) RunTurn(ctx context.Context, chatID, draft string) (uint64, error) {
	if strings.TrimSpace(draft) == "" {
		return 0, ErrEmptyDraft
	}
	if !o.acquire(chatID) {
		return 0, ErrTurnInFlight
	}
	defer o.release(chatID)

	t, err := o.prepare(ctx, chatID, draft)
	if err != nil {
		return 0, err
	}
	return t.run(ctx, nil)
}

// EnqueueTurn records a TurnJob for the worker. The bool reports whether a
// new job was created or an idempotency key matched an existing one.
func (o *Orchestrator) EnqueueTurn(ctx context.Context, chatID, draft string, idempotencyKey *string) (*TurnJob, bool, error) {
	if strings.TrimSpace(draft) == "" {
		return nil, false, ErrEmptyDraft
	}
	if _, err := o.repo.GetChatByChatID(ctx, chatID); err != nil {
		return nil, false, err
	}
	job := &TurnJob{
		ID:             NewID(),
		ChatID:         chatID,
		Draft:          draft,
		IdempotencyKey: idempotencyKey,
		Status:         JobQueued,
	}
	return o.repo.CreateJobOrGetExisting(ctx, job)
}

// RunTurnJob executes one queued job end to end: mark running, stream, record
// the outcome on the job row.
func (o *Orchestrator) RunTurnJob(ctx context.Context, jobID string) error {
	_ = o.repo.UpdateJobStatusRunning(ctx, jobID)

	job, err := o.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	assistantMsgID, err := o.RunTurn(ctx, job.ChatID, job.Draft)
	if err != nil {
		_ = o.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	return o.repo.MarkJobSucceeded(ctx, jobID, assistantMsgID)
}

// Jobs ---------------------------------------------------------------------

func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*TurnJob, error) {
	return o.repo.GetJobByID(ctx, jobID)
}

// DeleteChatMessages wipes a chat's history and notifies listeners that the
// message count changed outside of streaming.
func (o *Orchestrator) DeleteChatMessages(ctx context.Context, chatID string) error {
	msgs, err := o.repo.RecentMessagesDesc(ctx, chatID, maxHistoryFetch)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := o.repo.DeleteMessage(ctx, m.ID); err != nil {
			return err
		}
	}
	o.bus.Publish(ctx, bus.NewEvent(bus.KindCountChanged, chatID, 0))
	return nil
}
