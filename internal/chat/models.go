// Package chat holds the conversation data model, the context assembler, the
// per-message lifecycle state machine, and the orchestrator that ties them to
// a streaming backend.
package chat

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a ULID string used for every entity id in this package.
func NewID() string {
	return ulid.Make().String()
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Status string

const (
	StatusSending  Status = "sending"
	StatusSent     Status = "sent"
	StatusThinking Status = "thinking"
	StatusTyping   Status = "typing"
	StatusReceived Status = "received"
	StatusError    Status = "error"
)

// validStatuses constrains which statuses each role may ever hold: an
// assistant message is never sending/sent, a user message never
// thinking/typing/received.
var validStatuses = map[Role][]Status{
	RoleUser:      {StatusSending, StatusSent, StatusError},
	RoleAssistant: {StatusThinking, StatusTyping, StatusReceived, StatusError},
	RoleSystem:    {StatusSent},
}

func statusAllowed(role Role, status Status) bool {
	for _, s := range validStatuses[role] {
		if s == status {
			return true
		}
	}
	return false
}

// Meta is the telemetry snapshot captured per message: effective request
// parameters on creation, timing and token counts as they become known.
type Meta struct {
	Model               string   `gorm:"type:varchar(128)" json:"model,omitempty"`
	PromptName          string   `gorm:"type:varchar(128)" json:"prompt_name,omitempty"`
	ContextLength       int      `json:"context_length"`
	ActualContextLength int      `json:"actual_context_length"`
	Temperature         *float64 `json:"temperature,omitempty"`
	TopP                *float64 `json:"top_p,omitempty"`
	MaxTokens           *int     `json:"max_tokens,omitempty"`

	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Message is one turn in a chat. Text is append-only while streaming and
// frozen once the message reaches a terminal status.
type Message struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID string `gorm:"type:varchar(26);not null;index:idx_msg_chat_id" json:"chat_id"`

	Role   Role   `gorm:"type:varchar(16);not null" json:"role"`
	Status Status `gorm:"type:varchar(16);not null;index" json:"status"`

	Text      string `gorm:"type:text;not null" json:"text"`
	ErrorInfo string `gorm:"type:text" json:"error_info,omitempty"`
	ErrorKind string `gorm:"type:varchar(16)" json:"error_kind,omitempty"`

	Meta Meta `gorm:"embedded;embeddedPrefix:meta_" json:"meta"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "messages" }

// NewMessage rejects role/status combinations that violate the model
// invariant at construction time instead of letting them reach the store.
func NewMessage(chatID string, role Role, status Status, text string) (*Message, error) {
	if !statusAllowed(role, status) {
		return nil, fmt.Errorf("status %q is not valid for role %q", status, role)
	}
	return &Message{
		ChatID: chatID,
		Role:   role,
		Status: status,
		Text:   text,
	}, nil
}

// Terminal reports whether the message can no longer be mutated by streaming.
func (m *Message) Terminal() bool {
	switch m.Status {
	case StatusSent, StatusReceived, StatusError:
		return true
	}
	return false
}

// ContextUnbounded asks the assembler for all available history.
const ContextUnbounded = -1

// ChatOption is the per-chat request configuration: which model, how much
// history, which prompt template, and the sampling parameters.
type ChatOption struct {
	ModelEntityID string   `gorm:"type:varchar(26)" json:"model_entity_id"`
	ContextLength int      `json:"context_length"`
	PromptID      *string  `gorm:"type:varchar(26)" json:"prompt_id,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
}

// Chat owns an ordered collection of messages. Position is a monotonically
// assigned sort key; new chats sort first.
type Chat struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID   string `gorm:"type:varchar(26);uniqueIndex;not null" json:"chat_id"`
	Title    string `gorm:"type:varchar(256)" json:"title"`
	Input    string `gorm:"type:text" json:"input"`
	Position int64  `gorm:"index;not null" json:"position"`

	Option ChatOption `gorm:"embedded;embeddedPrefix:option_" json:"option"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

// Prompt is a reusable named template of seed messages. Preset prompts are
// read-only seed data; user prompts are mutable and orderable.
type Prompt struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	PromptID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"prompt_id"`
	Name     string `gorm:"type:varchar(128);not null" json:"name"`
	Preset   bool   `gorm:"not null;default:false" json:"preset"`
	Position int64  `gorm:"index;not null" json:"position"`

	Messages []PromptMessage `gorm:"foreignKey:PromptID;references:PromptID" json:"messages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Prompt) TableName() string { return "prompts" }

type PromptMessage struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PromptID string `gorm:"type:varchar(26);not null;index" json:"prompt_id"`
	Role     Role   `gorm:"type:varchar(16);not null" json:"role"`
	Content  string `gorm:"type:text;not null" json:"content"`
	Position int64  `gorm:"not null" json:"position"`
}

func (PromptMessage) TableName() string { return "prompt_messages" }

// Provider is an authentication+endpoint configuration for one backend
// family. Kind selects the gateway adapter.
type Provider struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ProviderID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"provider_id"`
	Kind       string `gorm:"type:varchar(32);not null" json:"kind"`
	Name       string `gorm:"type:varchar(128);not null" json:"name"`
	Endpoint   string `gorm:"type:varchar(512)" json:"endpoint,omitempty"`
	APIKey     string `gorm:"type:varchar(512)" json:"-"`

	Models []ModelEntity `gorm:"foreignKey:ProviderID;references:ProviderID" json:"models,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Provider) TableName() string { return "providers" }

// ModelEntity is one model offered by a provider. A ChatOption references
// exactly one ModelEntity, which resolves to exactly one Provider at request
// time.
type ModelEntity struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ModelEntityID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"model_entity_id"`
	ProviderID    string `gorm:"type:varchar(26);not null;index" json:"provider_id"`
	ModelID       string `gorm:"type:varchar(128);not null" json:"model_id"`
	DisplayName   string `gorm:"type:varchar(128)" json:"display_name,omitempty"`
	ContextLength int    `json:"context_length"`
	Favorited     bool   `gorm:"not null;default:false" json:"favorited"`
	Custom        bool   `gorm:"not null;default:false" json:"custom"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ModelEntity) TableName() string { return "model_entities" }
