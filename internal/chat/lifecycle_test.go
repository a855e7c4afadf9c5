package chat

import (
	"testing"
	"time"
)

func TestNewMessage_RoleStatusInvariant(t *testing.T) {
	valid := []struct {
		role   Role
		status Status
	}{
		{RoleUser, StatusSending},
		{RoleUser, StatusSent},
		{RoleUser, StatusError},
		{RoleAssistant, StatusThinking},
		{RoleAssistant, StatusTyping},
		{RoleAssistant, StatusReceived},
		{RoleAssistant, StatusError},
		{RoleSystem, StatusSent},
	}
	for _, tc := range valid {
		if _, err := NewMessage("c", tc.role, tc.status, ""); err != nil {
			t.Errorf("NewMessage(%s, %s) unexpectedly rejected: %v", tc.role, tc.status, err)
		}
	}

	invalid := []struct {
		role   Role
		status Status
	}{
		{RoleUser, StatusThinking},
		{RoleUser, StatusTyping},
		{RoleUser, StatusReceived},
		{RoleAssistant, StatusSending},
		{RoleAssistant, StatusSent},
		{RoleSystem, StatusThinking},
	}
	for _, tc := range invalid {
		if _, err := NewMessage("c", tc.role, tc.status, ""); err == nil {
			t.Errorf("NewMessage(%s, %s) should be rejected", tc.role, tc.status)
		}
	}
}

func TestMarkUserSent(t *testing.T) {
	m := &Message{Role: RoleUser, Status: StatusSending}
	if !MarkUserSent(m) || m.Status != StatusSent {
		t.Fatalf("sending -> sent failed, status %s", m.Status)
	}
	// Already sent: a no-op, not an error.
	if MarkUserSent(m) {
		t.Fatal("second MarkUserSent should report false")
	}

	a := &Message{Role: RoleAssistant, Status: StatusThinking}
	if MarkUserSent(a) || a.Status != StatusThinking {
		t.Fatal("assistant message must never become sent")
	}
}

func TestApplyDelta(t *testing.T) {
	now := time.Now()
	m := &Message{Role: RoleAssistant, Status: StatusThinking}

	if !ApplyDelta(m, "Hel", now) {
		t.Fatal("first delta rejected")
	}
	if m.Status != StatusTyping || m.Text != "Hel" {
		t.Fatalf("after first delta: status=%s text=%q", m.Status, m.Text)
	}
	if m.Meta.StartedAt == nil || !m.Meta.StartedAt.Equal(now) {
		t.Fatal("first delta must stamp StartedAt")
	}

	later := now.Add(time.Second)
	if !ApplyDelta(m, "lo", later) {
		t.Fatal("second delta rejected")
	}
	if m.Text != "Hello" {
		t.Fatalf("text = %q, want appended deltas", m.Text)
	}
	if !m.Meta.StartedAt.Equal(now) {
		t.Fatal("StartedAt must be set at most once")
	}
}

func TestApplyDelta_RejectsTerminalAndWrongRole(t *testing.T) {
	done := &Message{Role: RoleAssistant, Status: StatusReceived, Text: "final"}
	if ApplyDelta(done, "x", time.Now()) {
		t.Fatal("delta applied to a terminal message")
	}
	if done.Text != "final" {
		t.Fatal("rejected transition must not touch text")
	}

	user := &Message{Role: RoleUser, Status: StatusSending, Text: "hi"}
	if ApplyDelta(user, "x", time.Now()) || user.Text != "hi" {
		t.Fatal("delta applied to a user message")
	}
}

func TestMarkReceived(t *testing.T) {
	now := time.Now()

	m := &Message{Role: RoleAssistant, Status: StatusTyping, Text: "done"}
	if !MarkReceived(m, now) || m.Status != StatusReceived {
		t.Fatal("typing -> received failed")
	}
	if m.Meta.EndedAt == nil || !m.Meta.EndedAt.Equal(now) {
		t.Fatal("MarkReceived must stamp EndedAt")
	}

	// An empty completion: thinking straight to received is legal.
	empty := &Message{Role: RoleAssistant, Status: StatusThinking}
	if !MarkReceived(empty, now) {
		t.Fatal("thinking -> received failed")
	}

	if MarkReceived(m, now.Add(time.Hour)) {
		t.Fatal("received is terminal")
	}
	if !m.Meta.EndedAt.Equal(now) {
		t.Fatal("EndedAt must be set at most once")
	}
}

func TestMarkError_PreservesPartialText(t *testing.T) {
	now := time.Now()
	m := &Message{Role: RoleAssistant, Status: StatusTyping, Text: "partial answ"}

	if !MarkError(m, "connection reset", "network", now) {
		t.Fatal("typing -> error failed")
	}
	if m.Status != StatusError || m.Text != "partial answ" {
		t.Fatalf("status=%s text=%q; partial text must survive", m.Status, m.Text)
	}
	if m.ErrorInfo != "connection reset" || m.ErrorKind != "network" {
		t.Fatalf("errorInfo=%q errorKind=%q", m.ErrorInfo, m.ErrorKind)
	}
	if m.Meta.EndedAt == nil {
		t.Fatal("MarkError must stamp EndedAt")
	}

	if MarkError(m, " again", "unknown", now.Add(time.Minute)) {
		t.Fatal("error is terminal")
	}
}

func TestMarkError_FromUserSending(t *testing.T) {
	m := &Message{Role: RoleUser, Status: StatusSending, Text: "hi"}
	if !MarkError(m, "boom", "unknown", time.Now()) || m.Status != StatusError {
		t.Fatal("sending -> error failed")
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusReceived, StatusError} {
		if !(&Message{Status: s}).Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusSending, StatusThinking, StatusTyping} {
		if (&Message{Status: s}).Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
