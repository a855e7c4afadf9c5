package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumochat/chat-engine/internal/chat"
	"github.com/lumochat/chat-engine/internal/config"
	"github.com/lumochat/chat-engine/internal/httpapi/handlers"
	"github.com/lumochat/chat-engine/internal/httpapi/middleware"
	"github.com/lumochat/chat-engine/internal/store/rabbitmq"
)

func NewRouter(cfg config.Config, repo *chat.Repo, orch *chat.Orchestrator, pub *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	h := handlers.NewHandler(cfg, repo, orch, pub)

	r.GET("/ping", h.Ping)

	api := r.Group("/")
	api.Use(middleware.AuthRequired(cfg.AuthSecret))

	// chats
	api.POST("/chats", h.CreateChat)
	api.GET("/chats", h.ListChats)
	api.PUT("/chats/:chat_id/option", h.UpdateChatOption)
	api.GET("/chats/:chat_id/messages", h.ListChatMessages)
	api.DELETE("/chats/:chat_id/messages", h.DeleteChatMessages)

	// turns
	api.POST("/turns", h.SubmitTurn)
	api.POST("/turns/stream", h.SubmitTurnStream)
	api.POST("/turns/async", h.SubmitTurnAsync)
	api.GET("/turns/jobs/:job_id", h.GetTurnJob)

	// prompts
	api.POST("/prompts", h.CreatePrompt)
	api.GET("/prompts", h.ListPrompts)
	api.PUT("/prompts/:prompt_id", h.UpdatePrompt)
	api.DELETE("/prompts/:prompt_id", h.DeletePrompt)

	// providers
	api.POST("/providers", h.CreateProvider)
	api.GET("/providers", h.ListProviders)
	api.POST("/providers/:provider_id/models", h.CreateModelEntity)

	return r
}
