package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumochat/chat-engine/internal/ai"
	"github.com/lumochat/chat-engine/internal/chat"
)

type createChatReq struct {
	Title  string          `json:"title"`
	Option chat.ChatOption `json:"option"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ch := &chat.Chat{
		ChatID: chat.NewID(),
		Title:  req.Title,
		Option: req.Option,
	}
	if err := h.Repo.CreateChat(c.Request.Context(), ch); err != nil {
		fail(c, http.StatusInternalServerError, 50001, "failed to create chat")
		return
	}
	ok(c, ch)
}

func (h *Handler) ListChats(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	chats, err := h.Repo.ListChats(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50002, "failed to list chats")
		return
	}
	ok(c, gin.H{"chats": chats})
}

type updateOptionReq struct {
	Option chat.ChatOption `json:"option" binding:"required"`
}

func (h *Handler) UpdateChatOption(c *gin.Context) {
	chatID := c.Param("chat_id")
	var req updateOptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Repo.UpdateChatOption(c.Request.Context(), chatID, req.Option); err != nil {
		fail(c, http.StatusInternalServerError, 50003, "failed to update chat option")
		return
	}
	ok(c, nil)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Repo.ListMessages(c.Request.Context(), chatID, limit, beforeID)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50004, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	ok(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) DeleteChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	if err := h.Orchestrator.DeleteChatMessages(c.Request.Context(), chatID); err != nil {
		fail(c, http.StatusInternalServerError, 50005, "failed to delete messages")
		return
	}
	ok(c, nil)
}

type submitTurnReq struct {
	ChatID string `json:"chat_id" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

// SubmitTurn fires a turn and returns the placeholder ids immediately; the
// stream finishes in the background and the client observes it through the
// store or the event bus.
func (h *Handler) SubmitTurn(c *gin.Context) {
	var req submitTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	userID, assistantID, err := h.Orchestrator.SubmitTurn(c.Request.Context(), req.ChatID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			fail(c, http.StatusNotFound, 40004, "chat not found")
		case errors.Is(err, chat.ErrTurnInFlight):
			fail(c, http.StatusConflict, 40901, "turn already in flight")
		case errors.Is(err, chat.ErrEmptyDraft):
			fail(c, http.StatusBadRequest, 10002, "text required")
		default:
			fail(c, http.StatusInternalServerError, 50006, "failed to submit turn")
		}
		return
	}

	ok(c, gin.H{
		"chat_id":              req.ChatID,
		"user_message_id":      userID,
		"assistant_message_id": assistantID,
	})
}

// SubmitTurnStream runs a turn and relays its gateway events over SSE.
func (h *Handler) SubmitTurnStream(c *gin.Context) {
	var req submitTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	events, err := h.Orchestrator.SubmitTurnStream(ctx, req.ChatID, req.Text)
	if err != nil {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":%q}\n\n", err.Error())
		return
	}

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, okk := <-events:
			if !okk {
				return
			}
			switch e.Type {
			case ai.EventStart:
				writeJSON("start", gin.H{"type": "start"})
			case ai.EventDelta:
				writeJSON("chunk", gin.H{
					"type":  "chunk",
					"delta": e.Delta,
				})
			case ai.EventComplete:
				writeJSON("done", gin.H{
					"type":  "done",
					"final": e.Final,
				})
				return
			case ai.EventError:
				writeJSON("error", gin.H{
					"type":    "error",
					"kind":    string(ai.Classify(e.Err)),
					"message": e.Err.Error(),
				})
				return
			}

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			// The turn keeps streaming server-side; we just stop relaying.
			return
		}
	}
}

type submitTurnAsyncReq struct {
	ChatID         string `json:"chat_id" binding:"required"`
	Text           string `json:"text" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SubmitTurnAsync queues a turn job. With no queue configured the job runs
// inline before the response.
func (h *Handler) SubmitTurnAsync(c *gin.Context) {
	var req submitTurnAsyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var key *string
	if req.IdempotencyKey != "" {
		key = &req.IdempotencyKey
	}

	job, created, err := h.Orchestrator.EnqueueTurn(c.Request.Context(), req.ChatID, req.Text, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50007, "failed to enqueue turn")
		return
	}

	if created {
		if h.Publisher != nil {
			if err := h.Publisher.PublishJob(c.Request.Context(), job.ID); err != nil {
				fail(c, http.StatusInternalServerError, 50008, "failed to publish job")
				return
			}
		} else {
			_ = h.Orchestrator.RunTurnJob(c.Request.Context(), job.ID)
			job, _ = h.Orchestrator.GetJob(c.Request.Context(), job.ID)
		}
	}

	ok(c, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"created": created,
	})
}

func (h *Handler) GetTurnJob(c *gin.Context) {
	job, err := h.Orchestrator.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, 40005, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50009, "failed to get job")
		return
	}
	ok(c, job)
}
