package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumochat/chat-engine/internal/chat"
	"github.com/lumochat/chat-engine/internal/config"
	"github.com/lumochat/chat-engine/internal/store/rabbitmq"
)

type Handler struct {
	Cfg          config.Config
	Repo         *chat.Repo
	Orchestrator *chat.Orchestrator

	// Publisher is nil when no queue is configured; the async submit
	// endpoint then degrades to running jobs inline.
	Publisher *rabbitmq.Publisher
}

func NewHandler(cfg config.Config, repo *chat.Repo, orch *chat.Orchestrator, pub *rabbitmq.Publisher) *Handler {
	return &Handler{Cfg: cfg, Repo: repo, Orchestrator: orch, Publisher: pub}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}
