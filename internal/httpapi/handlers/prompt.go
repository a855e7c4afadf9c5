package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumochat/chat-engine/internal/chat"
)

type promptMessageReq struct {
	Role     chat.Role `json:"role" binding:"required"`
	Content  string    `json:"content" binding:"required"`
	Position int64     `json:"position"`
}

type promptReq struct {
	Name     string             `json:"name" binding:"required"`
	Messages []promptMessageReq `json:"messages"`
}

func buildPromptMessages(promptID string, reqs []promptMessageReq) []chat.PromptMessage {
	out := make([]chat.PromptMessage, 0, len(reqs))
	for i, m := range reqs {
		pos := m.Position
		if pos == 0 {
			pos = int64(i + 1)
		}
		out = append(out, chat.PromptMessage{
			PromptID: promptID,
			Role:     m.Role,
			Content:  m.Content,
			Position: pos,
		})
	}
	return out
}

func (h *Handler) CreatePrompt(c *gin.Context) {
	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p := &chat.Prompt{
		PromptID: chat.NewID(),
		Name:     req.Name,
	}
	p.Messages = buildPromptMessages(p.PromptID, req.Messages)

	if err := h.Repo.CreatePrompt(c.Request.Context(), p); err != nil {
		fail(c, http.StatusInternalServerError, 50011, "failed to create prompt")
		return
	}
	ok(c, p)
}

func (h *Handler) ListPrompts(c *gin.Context) {
	prompts, err := h.Repo.ListPrompts(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, 50012, "failed to list prompts")
		return
	}
	ok(c, gin.H{"prompts": prompts})
}

func (h *Handler) UpdatePrompt(c *gin.Context) {
	promptID := c.Param("prompt_id")

	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p := &chat.Prompt{
		PromptID: promptID,
		Name:     req.Name,
		Messages: buildPromptMessages(promptID, req.Messages),
	}
	if err := h.Repo.UpdatePrompt(c.Request.Context(), p); err != nil {
		switch {
		case errors.Is(err, chat.ErrPresetReadOnly):
			fail(c, http.StatusForbidden, 40301, "preset prompts are read-only")
		case errors.Is(err, gorm.ErrRecordNotFound):
			fail(c, http.StatusNotFound, 40006, "prompt not found")
		default:
			fail(c, http.StatusInternalServerError, 50013, "failed to update prompt")
		}
		return
	}
	ok(c, nil)
}

func (h *Handler) DeletePrompt(c *gin.Context) {
	if err := h.Repo.DeletePrompt(c.Request.Context(), c.Param("prompt_id")); err != nil {
		switch {
		case errors.Is(err, chat.ErrPresetReadOnly):
			fail(c, http.StatusForbidden, 40301, "preset prompts are read-only")
		case errors.Is(err, gorm.ErrRecordNotFound):
			fail(c, http.StatusNotFound, 40006, "prompt not found")
		default:
			fail(c, http.StatusInternalServerError, 50014, "failed to delete prompt")
		}
		return
	}
	ok(c, nil)
}
