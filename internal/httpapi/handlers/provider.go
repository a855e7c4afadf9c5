package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumochat/chat-engine/internal/chat"
)

type providerReq struct {
	Kind     string `json:"kind" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
}

func (h *Handler) CreateProvider(c *gin.Context) {
	var req providerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p := &chat.Provider{
		ProviderID: chat.NewID(),
		Kind:       req.Kind,
		Name:       req.Name,
		Endpoint:   req.Endpoint,
		APIKey:     req.APIKey,
	}
	if err := h.Repo.CreateProvider(c.Request.Context(), p); err != nil {
		fail(c, http.StatusInternalServerError, 50021, "failed to create provider")
		return
	}
	ok(c, p)
}

func (h *Handler) ListProviders(c *gin.Context) {
	providers, err := h.Repo.ListProviders(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, 50022, "failed to list providers")
		return
	}
	ok(c, gin.H{"providers": providers})
}

type modelEntityReq struct {
	ModelID       string `json:"model_id" binding:"required"`
	DisplayName   string `json:"display_name"`
	ContextLength int    `json:"context_length"`
	Favorited     bool   `json:"favorited"`
	Custom        bool   `json:"custom"`
}

func (h *Handler) CreateModelEntity(c *gin.Context) {
	providerID := c.Param("provider_id")
	if _, err := h.Repo.GetProviderByProviderID(c.Request.Context(), providerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, 40007, "provider not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50023, "failed to load provider")
		return
	}

	var req modelEntityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m := &chat.ModelEntity{
		ModelEntityID: chat.NewID(),
		ProviderID:    providerID,
		ModelID:       req.ModelID,
		DisplayName:   req.DisplayName,
		ContextLength: req.ContextLength,
		Favorited:     req.Favorited,
		Custom:        req.Custom,
	}
	if err := h.Repo.CreateModelEntity(c.Request.Context(), m); err != nil {
		fail(c, http.StatusInternalServerError, 50024, "failed to create model")
		return
	}
	ok(c, m)
}
