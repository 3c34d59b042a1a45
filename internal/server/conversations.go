package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
)

// ConversationsHandler covers conversation CRUD, auto-rename, message
// listing and branching.
type ConversationsHandler struct {
	Store    *store.Store
	Provider llm.Provider
	Model    string
}

func (h *ConversationsHandler) Register(api *echo.Group, secret []byte) {
	g := api.Group("", withAuth(secret))
	g.GET("/conversations", h.list)
	g.GET("/conversation/:id", h.get)
	g.DELETE("/conversation/:id", h.delete)
	g.POST("/conversation/:id/clear", h.clear)
	g.POST("/conversation/:id/name", h.rename)
	g.GET("/conversation/:id/messages", h.messages)
	g.POST("/conversation/:id/branch", h.branch)
	g.PUT("/message/:id", h.updateMessage)
	g.DELETE("/message/:id", h.deleteMessage)
}

func (h *ConversationsHandler) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	convs, err := h.Store.ListConversations(c.Request().Context(), userID(c), limit, offset)
	if err != nil {
		return err
	}
	out := make([]conversationDTO, 0, len(convs))
	for _, conv := range convs {
		out = append(out, renderConversation(conv))
	}
	return c.JSON(http.StatusOK, out)
}

// owned loads a conversation and checks it belongs to the caller.
func (h *ConversationsHandler) owned(c echo.Context) (store.Conversation, error) {
	conv, ok, err := h.Store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return store.Conversation{}, err
	}
	if !ok || conv.UserID != userID(c) {
		return store.Conversation{}, apperr.NotFound("conversation not found")
	}
	return conv, nil
}

func (h *ConversationsHandler) get(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderConversation(conv))
}

func (h *ConversationsHandler) delete(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteConversation(c.Request().Context(), conv.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

func (h *ConversationsHandler) clear(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.Store.ClearConversation(c.Request().Context(), conv.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

// rename sets the title directly, or asks the model for one when auto is set.
func (h *ConversationsHandler) rename(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	var req struct {
		Name string `json:"name"`
		Auto bool   `json:"auto"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	ctx := c.Request().Context()
	title := strings.TrimSpace(req.Name)
	if req.Auto {
		title, err = h.autoTitle(c, conv.ID)
		if err != nil {
			return err
		}
	}
	if title == "" {
		return apperr.Invalid("name required")
	}
	if err := h.Store.RenameConversation(ctx, conv.ID, title); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"name": title})
}

func (h *ConversationsHandler) autoTitle(c echo.Context, conversationID string) (string, error) {
	ctx := c.Request().Context()
	msgs, err := h.Store.ListMessages(ctx, conversationID, 4, 0)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", apperr.Invalid("conversation has no messages to name")
	}
	var b strings.Builder
	for _, m := range msgs {
		if m.Query != "" {
			b.WriteString("User: " + m.Query + "\n")
		}
		if m.Answer != "" {
			b.WriteString("Assistant: " + m.Answer + "\n")
		}
	}
	prompt := []llm.Message{
		{Role: llm.RoleSystem, Content: "Produce a title of at most six words for the conversation. Reply with the title only, no quotes."},
		{Role: llm.RoleUser, Content: b.String()},
	}
	title, _, err := h.Provider.Generate(ctx, h.Model, prompt, llm.Options{Temperature: 0.2, MaxTokens: 32})
	if err != nil {
		return "", err
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if len(title) > 60 {
		title = title[:60]
	}
	return title, nil
}

func (h *ConversationsHandler) messages(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	msgs, err := h.Store.ListMessages(c.Request().Context(), conv.ID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderMessages(msgs))
}

// branch forks the conversation at a message, copying the prefix with its
// thoughts and citations.
func (h *ConversationsHandler) branch(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.MessageID == "" {
		return apperr.Invalid("message_id required")
	}
	branched, err := h.Store.BranchConversation(c.Request().Context(), conv.ID, req.MessageID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderConversation(branched))
}

func (h *ConversationsHandler) updateMessage(c echo.Context) error {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	ctx := c.Request().Context()
	msg, ok, err := h.Store.GetMessage(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("message not found")
	}
	if err := h.Store.UpdateMessageAnswer(ctx, msg.ID, req.Answer); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

func (h *ConversationsHandler) deleteMessage(c echo.Context) error {
	if err := h.Store.DeleteMessage(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}
