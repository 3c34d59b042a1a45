package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/runner"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/stream"
)

// ChatHandler owns the SSE chat entrypoint and the task stop endpoint.
type ChatHandler struct {
	Store      *store.Store
	Dispatcher *runner.Dispatcher
	Flags      *event.FlagStore
	Logger     *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.POST("/say", h.say)
	g.POST("/message/stop", h.stop)
	g.GET("/message/:id/get", h.getMessage)
}

type sayRequest struct {
	ConversationID    string            `json:"conversation_id"`
	BotID             string            `json:"bot_id"`
	Query             string            `json:"query"`
	Files             []store.FileRef   `json:"files"`
	Inputs            map[string]string `json:"inputs"`
	CollectionID      string            `json:"collection_id"`
	AutoAcceptedPlan  bool              `json:"auto_accepted_plan"`
	InterruptFeedback string            `json:"interrupt_feedback"`
}

// say starts one chat turn and streams its frames back over SSE. The runner
// executes on its own goroutine; this handler is the queue's single consumer.
func (h *ChatHandler) say(c echo.Context) error {
	uid := userID(c)
	var req sayRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.Query == "" && req.InterruptFeedback == "" {
		return apperr.Invalid("query required")
	}
	ctx := c.Request().Context()

	conv, err := h.resolveConversation(c, uid, req)
	if err != nil {
		return err
	}
	bot, ok, err := h.Store.GetBot(ctx, conv.BotID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("bot not found")
	}
	mc, ok, err := h.Store.GetModelConfig(ctx, bot.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.CodeModelNotConfigured, http.StatusBadRequest, "bot has no model config")
	}

	msg, err := h.Store.CreateMessage(ctx, store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Query:          req.Query,
		Files:          req.Files,
		AgentBased:     mc.AgentEnabled,
	})
	if err != nil {
		return err
	}

	q := event.NewQueue(msg.ID, h.Flags)
	go h.Dispatcher.Run(ctx, bot, mc, runner.Request{
		TaskID:            msg.ID,
		UserID:            uid,
		WorkspaceID:       bot.WorkspaceID,
		ConversationID:    conv.ID,
		MessageID:         msg.ID,
		Query:             req.Query,
		Files:             req.Files,
		Inputs:            req.Inputs,
		CollectionID:      req.CollectionID,
		AutoAcceptedPlan:  req.AutoAcceptedPlan,
		InterruptFeedback: req.InterruptFeedback,
	}, q)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	return stream.New(h.Store, q, conv.ID, msg.ID).Run(ctx, resp)
}

func (h *ChatHandler) resolveConversation(c echo.Context, uid string, req sayRequest) (store.Conversation, error) {
	ctx := c.Request().Context()
	if req.ConversationID != "" {
		conv, ok, err := h.Store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return store.Conversation{}, err
		}
		if !ok || conv.UserID != uid {
			return store.Conversation{}, apperr.NotFound("conversation not found")
		}
		return conv, nil
	}
	if req.BotID == "" {
		return store.Conversation{}, apperr.Invalid("bot_id required for a new conversation")
	}
	return h.Store.CreateConversation(ctx, uid, req.BotID, defaultTitle(req.Query))
}

func (h *ChatHandler) stop(c echo.Context) error {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.TaskID == "" {
		return apperr.Invalid("task_id required")
	}
	if err := h.Flags.SetStopFlag(c.Request().Context(), req.TaskID, "user", userID(c)); err != nil {
		return apperr.Invalid(err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

// getMessage returns a past message with its thoughts and citations.
func (h *ChatHandler) getMessage(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	msg, ok, err := h.Store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("message not found")
	}
	thoughts, err := h.Store.ListAgentThoughts(ctx, id)
	if err != nil {
		return err
	}
	resources, err := h.Store.ListRetrieverResources(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":             renderMessage(msg),
		"agent_thoughts":      renderThoughts(thoughts),
		"retriever_resources": renderResources(resources),
	})
}

func defaultTitle(query string) string {
	title := strings.TrimSpace(query)
	if len(title) > 40 {
		title = title[:40]
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
