package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// maxHistoryFetch caps a single history query. ContextUnbounded resolves to
// this limit.
const maxHistoryFetch = 1000

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// --- chats ---

// CreateChat assigns the next Position so new chats sort first.
func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos int64
		if err := tx.Model(&Chat{}).Select("COALESCE(MAX(position), 0)").Scan(&maxPos).Error; err != nil {
			return err
		}
		c.Position = maxPos + 1
		return tx.Create(c).Error
	})
}

func (r *Repo) GetChatByChatID(ctx context.Context, chatID string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns chats newest-position-first.
func (r *Repo) ListChats(ctx context.Context, limit int) ([]Chat, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Order("position DESC").
		Limit(limit).
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *Repo) UpdateChatInput(ctx context.Context, chatID, input string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("chat_id = ?", chatID).
		Update("input", input).Error
}

func (r *Repo) UpdateChatOption(ctx context.Context, chatID string, opt ChatOption) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("chat_id = ?", chatID).
		Updates(map[string]any{
			"option_model_entity_id": opt.ModelEntityID,
			"option_context_length":  opt.ContextLength,
			"option_prompt_id":       opt.PromptID,
			"option_temperature":     opt.Temperature,
			"option_top_p":           opt.TopP,
			"option_max_tokens":      opt.MaxTokens,
		}).Error
}

func (r *Repo) DeleteChat(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("chat_id = ?", chatID).Delete(&Chat{}).Error
	})
}

// --- messages ---

// SaveMessage creates m when it has no id yet, otherwise updates it in place.
func (r *Repo) SaveMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// RecentMessagesDesc returns the most recent messages newest-first. limit <= 0
// means everything up to the store cap.
func (r *Repo) RecentMessagesDesc(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > maxHistoryFetch {
		limit = maxHistoryFetch
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessages pages messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, chatID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id = ?", chatID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) DeleteMessage(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&Message{}, "id = ?", id).Error
}

// CreateTurnPlaceholders commits the user/assistant pair in one transaction so
// a crash mid-stream leaves a visibly in-progress pair rather than nothing.
func (r *Repo) CreateTurnPlaceholders(ctx context.Context, userMsg, assistantMsg *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		return tx.Create(assistantMsg).Error
	})
}

// --- prompts ---

func (r *Repo) CreatePrompt(ctx context.Context, p *Prompt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos int64
		if err := tx.Model(&Prompt{}).Select("COALESCE(MAX(position), 0)").Scan(&maxPos).Error; err != nil {
			return err
		}
		p.Position = maxPos + 1
		return tx.Create(p).Error
	})
}

func (r *Repo) GetPromptByPromptID(ctx context.Context, promptID string) (*Prompt, error) {
	var p Prompt
	if err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("prompt_id = ?", promptID).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	if err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("position DESC").
		Find(&prompts).Error; err != nil {
		return nil, err
	}
	return prompts, nil
}

var ErrPresetReadOnly = errors.New("preset prompts are read-only")

// UpdatePrompt replaces name and template messages. Preset prompts are seed
// data and rejected here.
func (r *Repo) UpdatePrompt(ctx context.Context, p *Prompt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Prompt
		if err := tx.Where("prompt_id = ?", p.PromptID).First(&existing).Error; err != nil {
			return err
		}
		if existing.Preset {
			return ErrPresetReadOnly
		}
		if err := tx.Model(&Prompt{}).Where("prompt_id = ?", p.PromptID).
			Updates(map[string]any{"name": p.Name, "position": p.Position}).Error; err != nil {
			return err
		}
		if err := tx.Where("prompt_id = ?", p.PromptID).Delete(&PromptMessage{}).Error; err != nil {
			return err
		}
		for i := range p.Messages {
			p.Messages[i].ID = 0
			p.Messages[i].PromptID = p.PromptID
		}
		if len(p.Messages) == 0 {
			return nil
		}
		return tx.Create(&p.Messages).Error
	})
}

func (r *Repo) DeletePrompt(ctx context.Context, promptID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Prompt
		if err := tx.Where("prompt_id = ?", promptID).First(&existing).Error; err != nil {
			return err
		}
		if existing.Preset {
			return ErrPresetReadOnly
		}
		if err := tx.Where("prompt_id = ?", promptID).Delete(&PromptMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("prompt_id = ?", promptID).Delete(&Prompt{}).Error
	})
}

// --- providers / models ---

func (r *Repo) CreateProvider(ctx context.Context, p *Provider) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repo) GetProviderByProviderID(ctx context.Context, providerID string) (*Provider, error) {
	var p Provider
	if err := r.db.WithContext(ctx).
		Preload("Models").
		Where("provider_id = ?", providerID).
		First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ListProviders(ctx context.Context) ([]Provider, error) {
	var providers []Provider
	if err := r.db.WithContext(ctx).
		Preload("Models").
		Order("id ASC").
		Find(&providers).Error; err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *Repo) CreateModelEntity(ctx context.Context, m *ModelEntity) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ResolveModel looks up a ModelEntity and the Provider that owns it; this is
// the back-reference of the original entity graph expressed as a query.
func (r *Repo) ResolveModel(ctx context.Context, modelEntityID string) (*ModelEntity, *Provider, error) {
	var m ModelEntity
	if err := r.db.WithContext(ctx).
		Where("model_entity_id = ?", modelEntityID).
		First(&m).Error; err != nil {
		return nil, nil, err
	}
	var p Provider
	if err := r.db.WithContext(ctx).
		Where("provider_id = ?", m.ProviderID).
		First(&p).Error; err != nil {
		return nil, nil, err
	}
	return &m, &p, nil
}

// --- turn jobs ---

func (r *Repo) GetJobByID(ctx context.Context, id string) (*TurnJob, error) {
	var j TurnJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, assistantMsgID uint64) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": assistantMsgID,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}

func (r *Repo) getJobByIdempotencyKey(ctx context.Context, key string) (*TurnJob, error) {
	var job TurnJob
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job; if the idempotency key is
// already taken it returns the existing job instead. The bool reports whether
// a new job was created.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *TurnJob) (*TurnJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.getJobByIdempotencyKey(ctx, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
