package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lumochat/chat-engine/internal/ai"
	"github.com/lumochat/chat-engine/internal/bus"
)

// scriptedGateway plays back a fixed stream, recording what it was asked to
// send. A non-nil err replaces the completion; a non-nil block channel gates
// the terminal callback so tests can hold a turn in flight.
type scriptedGateway struct {
	deltas []string
	err    error
	block  chan struct{}

	mu      sync.Mutex
	gotMsgs []ai.Message
	gotCfg  ai.StreamingConfig
}

func (g *scriptedGateway) StreamChatCompletion(ctx context.Context, msgs []ai.Message, cfg ai.StreamingConfig, h ai.Handlers) {
	g.mu.Lock()
	g.gotMsgs = append([]ai.Message(nil), msgs...)
	g.gotCfg = cfg
	g.mu.Unlock()

	if h.OnStart != nil {
		h.OnStart()
	}
	cum := ""
	for _, d := range g.deltas {
		cum += d
		if h.OnDelta != nil {
			h.OnDelta(d, cum)
		}
	}
	if g.block != nil {
		<-g.block
	}
	if g.err != nil {
		if h.OnError != nil {
			h.OnError(g.err)
		}
		return
	}
	if h.OnComplete != nil {
		h.OnComplete(cum)
	}
}

func (g *scriptedGateway) sentMessages() []ai.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gotMsgs
}

// recordingBus captures published events in order.
type recordingBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (b *recordingBus) Publish(_ context.Context, e bus.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordingBus) kinds() []bus.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Kind, len(b.events))
	for i, e := range b.events {
		out[i] = e.Kind
	}
	return out
}

func newTestOrchestrator(t *testing.T, gw ai.Gateway) (*Orchestrator, *Repo, *recordingBus) {
	t.Helper()
	r := newTestRepo(t)
	reg := ai.NewRegistry()
	if gw != nil {
		reg.Register("scripted", gw)
	}
	b := &recordingBus{}
	return NewOrchestrator(r, reg, b), r, b
}

func chatMessagesAsc(t *testing.T, r *Repo, chatID string) []Message {
	t.Helper()
	desc, err := r.RecentMessagesDesc(context.Background(), chatID, 0)
	if err != nil {
		t.Fatal(err)
	}
	asc := make([]Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		asc = append(asc, desc[i])
	}
	return asc
}

func TestRunTurn_SuccessfulStream(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"Hel", "lo", " world"}}
	o, r, b := newTestOrchestrator(t, gw)
	c := seedModelStack(t, r, "scripted", 10)

	assistantID, err := o.RunTurn(context.Background(), c.ChatID, "say hello")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	msgs := chatMessagesAsc(t, r, c.ChatID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want the user/assistant pair", len(msgs))
	}
	user, assistant := msgs[0], msgs[1]

	if user.Role != RoleUser || user.Status != StatusSent || user.Text != "say hello" {
		t.Fatalf("user message = %+v", user)
	}
	if assistant.ID != assistantID || assistant.Role != RoleAssistant {
		t.Fatalf("assistant message = %+v", assistant)
	}
	if assistant.Status != StatusReceived || assistant.Text != "Hello world" {
		t.Fatalf("assistant status=%s text=%q", assistant.Status, assistant.Text)
	}
	if assistant.Meta.StartedAt == nil || assistant.Meta.EndedAt == nil {
		t.Fatal("timing not stamped")
	}
	if assistant.Meta.Model != "test-model" || assistant.Meta.ActualContextLength != 0 {
		t.Fatalf("meta = %+v", assistant.Meta)
	}

	kinds := b.kinds()
	if len(kinds) != 2 || kinds[0] != bus.KindNew || kinds[1] != bus.KindEOF {
		t.Fatalf("bus events = %v", kinds)
	}

	if gw.gotCfg.APIKey != "test-key" || gw.gotCfg.ModelID != "test-model" {
		t.Fatalf("gateway config = %+v", gw.gotCfg)
	}
	sent := gw.sentMessages()
	if len(sent) != 1 || sent[0].Content != "say hello" {
		t.Fatalf("gateway received %+v", sent)
	}
}

func TestRunTurn_HistoryAndPromptAssembled(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"ok"}}
	o, r, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()
	c := seedModelStack(t, r, "scripted", ContextUnbounded)

	prompt := &Prompt{
		PromptID: NewID(),
		Name:     "persona",
		Messages: []PromptMessage{{Role: RoleSystem, Content: "be terse", Position: 1}},
	}
	if err := r.CreatePrompt(ctx, prompt); err != nil {
		t.Fatal(err)
	}
	opt := c.Option
	opt.PromptID = &prompt.PromptID
	if err := r.UpdateChatOption(ctx, c.ChatID, opt); err != nil {
		t.Fatal(err)
	}

	mustSaveMessage(t, r, &Message{ChatID: c.ChatID, Role: RoleUser, Status: StatusSent, Text: "earlier q"})
	mustSaveMessage(t, r, &Message{ChatID: c.ChatID, Role: RoleAssistant, Status: StatusReceived, Text: "earlier a"})

	if _, err := o.RunTurn(ctx, c.ChatID, "new q"); err != nil {
		t.Fatal(err)
	}

	sent := gw.sentMessages()
	wantContents := []string{"be terse", "earlier q", "earlier a", "new q"}
	if len(sent) != len(wantContents) {
		t.Fatalf("gateway received %d messages, want %d: %+v", len(sent), len(wantContents), sent)
	}
	for i, want := range wantContents {
		if sent[i].Content != want {
			t.Fatalf("message[%d] = %q, want %q", i, sent[i].Content, want)
		}
	}

	msgs := chatMessagesAsc(t, r, c.ChatID)
	assistant := msgs[len(msgs)-1]
	if assistant.Meta.ActualContextLength != 2 {
		t.Fatalf("actual context length = %d, want 2", assistant.Meta.ActualContextLength)
	}
	if assistant.Meta.PromptName != "persona" {
		t.Fatalf("prompt name = %q", assistant.Meta.PromptName)
	}
}

func TestRunTurn_ZeroContextSkipsHistory(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"ok"}}
	o, r, _ := newTestOrchestrator(t, gw)
	c := seedModelStack(t, r, "scripted", 0)

	mustSaveMessage(t, r, &Message{ChatID: c.ChatID, Role: RoleUser, Status: StatusSent, Text: "should not appear"})

	if _, err := o.RunTurn(context.Background(), c.ChatID, "fresh"); err != nil {
		t.Fatal(err)
	}

	sent := gw.sentMessages()
	if len(sent) != 1 || sent[0].Content != "fresh" {
		t.Fatalf("zero context must send only the draft, got %+v", sent)
	}
}

func TestRunTurn_FailureKeepsPartialTextAndUserSent(t *testing.T) {
	gw := &scriptedGateway{
		deltas: []string{"par", "tial"},
		err:    errors.New("Invalid api key provided"),
	}
	o, r, b := newTestOrchestrator(t, gw)
	c := seedModelStack(t, r, "scripted", 10)

	_, err := o.RunTurn(context.Background(), c.ChatID, "hi")
	if err == nil {
		t.Fatal("RunTurn should surface the terminal error")
	}

	msgs := chatMessagesAsc(t, r, c.ChatID)
	user, assistant := msgs[0], msgs[1]

	if user.Status != StatusSent {
		t.Fatalf("user message rolled back to %s; it must stay sent", user.Status)
	}
	if assistant.Status != StatusError {
		t.Fatalf("assistant status = %s", assistant.Status)
	}
	if assistant.Text != "partial" {
		t.Fatalf("partial text lost: %q", assistant.Text)
	}
	if assistant.ErrorKind != string(ai.KindAPIKey) {
		t.Fatalf("error kind = %q, want %q", assistant.ErrorKind, ai.KindAPIKey)
	}
	if !strings.Contains(assistant.ErrorInfo, "Invalid api key") {
		t.Fatalf("error info = %q", assistant.ErrorInfo)
	}

	kinds := b.kinds()
	if len(kinds) != 2 || kinds[1] != bus.KindErr {
		t.Fatalf("bus events = %v", kinds)
	}
}

func TestRunTurn_UnknownProviderKindFailsTurn(t *testing.T) {
	o, r, _ := newTestOrchestrator(t, nil)
	c := seedModelStack(t, r, "acme", 10)

	_, err := o.RunTurn(context.Background(), c.ChatID, "hi")
	if err == nil {
		t.Fatal("unknown provider kind should fail the turn")
	}

	msgs := chatMessagesAsc(t, r, c.ChatID)
	user, assistant := msgs[0], msgs[1]
	if user.Status != StatusSent {
		t.Fatalf("user status = %s", user.Status)
	}
	if assistant.Status != StatusError || !strings.Contains(assistant.ErrorInfo, "acme") {
		t.Fatalf("assistant = %+v", assistant)
	}
}

func TestRunTurn_EmptyDraftRejectedBeforePersisting(t *testing.T) {
	o, r, b := newTestOrchestrator(t, &scriptedGateway{})
	c := seedModelStack(t, r, "scripted", 10)

	if _, err := o.RunTurn(context.Background(), c.ChatID, "   "); !errors.Is(err, ErrEmptyDraft) {
		t.Fatalf("err = %v, want ErrEmptyDraft", err)
	}
	if n, _ := o.repo.CountMessages(context.Background(), c.ChatID); n != 0 {
		t.Fatalf("%d messages persisted for an empty draft", n)
	}
	if len(b.kinds()) != 0 {
		t.Fatal("no events expected for a rejected draft")
	}
}

func TestRunTurn_UnknownChat(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &scriptedGateway{})
	if _, err := o.RunTurn(context.Background(), "no-such-chat", "hi"); err == nil {
		t.Fatal("unknown chat should fail before dispatch")
	}
}

func TestSubmitTurn_RejectsSecondWhileStreaming(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"slow"}, block: make(chan struct{})}
	o, r, _ := newTestOrchestrator(t, gw)
	c := seedModelStack(t, r, "scripted", 10)
	ctx := context.Background()

	userID, assistantID, err := o.SubmitTurn(ctx, c.ChatID, "first")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if userID == 0 || assistantID == 0 {
		t.Fatal("submit must return the persisted placeholder ids")
	}

	if _, _, err := o.SubmitTurn(ctx, c.ChatID, "second"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("second submit: %v, want ErrTurnInFlight", err)
	}

	close(gw.block)
	waitForStatus(t, r, assistantID, StatusReceived)

	// The slot is released shortly after the terminal callback returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, err := o.SubmitTurn(ctx, c.ChatID, "third")
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTurnInFlight) || time.Now().After(deadline) {
			t.Fatalf("submit after completion: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitTurn_PlaceholdersVisibleBeforeStreamEnds(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"x"}, block: make(chan struct{})}
	o, r, _ := newTestOrchestrator(t, gw)
	c := seedModelStack(t, r, "scripted", 10)

	_, assistantID, err := o.SubmitTurn(context.Background(), c.ChatID, "hello")
	if err != nil {
		t.Fatal(err)
	}

	// The pair is persisted synchronously; the stream is still blocked.
	msgs := chatMessagesAsc(t, r, c.ChatID)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages before stream end, want 2", len(msgs))
	}
	if msgs[0].Status != StatusSending && msgs[0].Status != StatusSent {
		t.Fatalf("user placeholder status = %s", msgs[0].Status)
	}

	close(gw.block)
	waitForStatus(t, r, assistantID, StatusReceived)
}

func TestSubmitTurnStream_DeliversEvents(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"a", "b"}}
	o, r, _ := newTestOrchestrator(t, gw)
	c := seedModelStack(t, r, "scripted", 10)

	events, err := o.SubmitTurnStream(context.Background(), c.ChatID, "hi")
	if err != nil {
		t.Fatal(err)
	}

	var types []ai.EventType
	var final string
	for e := range events {
		types = append(types, e.Type)
		if e.Type == ai.EventComplete {
			final = e.Final
		}
	}

	want := []ai.EventType{ai.EventStart, ai.EventDelta, ai.EventDelta, ai.EventComplete}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
	if final != "ab" {
		t.Fatalf("final = %q", final)
	}
}

func TestRunTurn_ClearsPendingInput(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"ok"}}
	o, r, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()
	c := seedModelStack(t, r, "scripted", 10)

	if err := r.UpdateChatInput(ctx, c.ChatID, "draft in progress"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.RunTurn(ctx, c.ChatID, "draft in progress"); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetChatByChatID(ctx, c.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Input != "" {
		t.Fatalf("pending input not cleared: %q", got.Input)
	}
}

func TestEnqueueAndRunTurnJob(t *testing.T) {
	gw := &scriptedGateway{deltas: []string{"queued answer"}}
	o, r, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()
	c := seedModelStack(t, r, "scripted", 10)

	key := "idem-1"
	job, created, err := o.EnqueueTurn(ctx, c.ChatID, "later please", &key)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	if job.Status != JobQueued {
		t.Fatalf("job status = %s", job.Status)
	}

	again, created, err := o.EnqueueTurn(ctx, c.ChatID, "later please", &key)
	if err != nil || created || again.ID != job.ID {
		t.Fatalf("duplicate enqueue: created=%v id=%s err=%v", created, again.ID, err)
	}

	if err := o.RunTurnJob(ctx, job.ID); err != nil {
		t.Fatalf("run job: %v", err)
	}

	done, err := o.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != JobSucceeded || done.ResultMessageID == nil {
		t.Fatalf("job = %+v", done)
	}
	assistant, err := r.GetMessage(ctx, *done.ResultMessageID)
	if err != nil {
		t.Fatal(err)
	}
	if assistant.Text != "queued answer" || assistant.Status != StatusReceived {
		t.Fatalf("assistant = %+v", assistant)
	}
}

func TestRunTurnJob_RecordsFailure(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("backend down")}
	o, r, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()
	c := seedModelStack(t, r, "scripted", 10)

	job, _, err := o.EnqueueTurn(ctx, c.ChatID, "doomed", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.RunTurnJob(ctx, job.ID); err == nil {
		t.Fatal("RunTurnJob should return the turn error")
	}

	done, err := o.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != JobFailed || done.Error == nil || !strings.Contains(*done.Error, "backend down") {
		t.Fatalf("job = %+v", done)
	}

	// The failure is also on the messages themselves.
	msgs := chatMessagesAsc(t, r, c.ChatID)
	if msgs[0].Status != StatusSent || msgs[1].Status != StatusError {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestDeleteChatMessages_NotifiesCountChanged(t *testing.T) {
	o, r, b := newTestOrchestrator(t, nil)
	ctx := context.Background()
	chatID := NewID()

	mustSaveMessage(t, r, &Message{ChatID: chatID, Role: RoleUser, Status: StatusSent, Text: "a"})
	mustSaveMessage(t, r, &Message{ChatID: chatID, Role: RoleAssistant, Status: StatusReceived, Text: "b"})

	if err := o.DeleteChatMessages(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	if n, _ := r.CountMessages(ctx, chatID); n != 0 {
		t.Fatalf("%d messages left", n)
	}
	kinds := b.kinds()
	if len(kinds) != 1 || kinds[0] != bus.KindCountChanged {
		t.Fatalf("bus events = %v", kinds)
	}
}

func waitForStatus(t *testing.T, r *Repo, msgID uint64, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := r.GetMessage(context.Background(), msgID)
		if err == nil && m.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message %d never reached %s", msgID, want)
}
