package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/store"
)

// BotsHandler covers bot CRUD and model-config binding.
type BotsHandler struct {
	Store *store.Store
}

func (h *BotsHandler) Register(api *echo.Group, secret []byte) {
	g := api.Group("", withAuth(secret))
	g.GET("/bots", h.list)
	g.POST("/bot", h.create)
	g.GET("/bot/:id", h.get)
	g.PUT("/bot/:id", h.update)
	g.DELETE("/bot/:id", h.delete)
	g.PUT("/bot/:id/model-config", h.setModelConfig)
}

type botRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

func (h *BotsHandler) list(c echo.Context) error {
	ws := c.QueryParam("workspace_id")
	if ws == "" {
		return apperr.Invalid("workspace_id required")
	}
	bots, err := h.Store.ListBots(c.Request().Context(), ws)
	if err != nil {
		return err
	}
	out := make([]botDTO, 0, len(bots))
	for _, b := range bots {
		out = append(out, renderBot(b))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *BotsHandler) create(c echo.Context) error {
	var req botRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.WorkspaceID == "" || req.Name == "" {
		return apperr.Invalid("workspace_id and name required")
	}
	b, err := h.Store.CreateBot(c.Request().Context(), store.Bot{
		WorkspaceID:  req.WorkspaceID,
		Name:         req.Name,
		Category:     req.Category,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, renderBot(b))
}

func (h *BotsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	b, ok, err := h.Store.GetBot(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("bot not found")
	}
	resp := map[string]interface{}{"bot": renderBot(b)}
	if mc, ok, err := h.Store.GetModelConfig(ctx, b.ID); err != nil {
		return err
	} else if ok {
		resp["model_config"] = renderModelConfig(mc)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *BotsHandler) update(c echo.Context) error {
	ctx := c.Request().Context()
	b, ok, err := h.Store.GetBot(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("bot not found")
	}
	var req botRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.Name != "" {
		b.Name = req.Name
	}
	if req.Category != "" {
		b.Category = req.Category
	}
	b.Description = req.Description
	b.SystemPrompt = req.SystemPrompt
	if err := h.Store.UpdateBot(ctx, b); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderBot(b))
}

func (h *BotsHandler) delete(c echo.Context) error {
	if err := h.Store.DeleteBot(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

type modelConfigRequest struct {
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	ModelMode        string          `json:"model_mode"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	NumCtx           int             `json:"num_ctx"`
	NumPredict       int             `json:"num_predict"`
	Stop             []string        `json:"stop"`
	AgentEnabled     bool            `json:"agent_enabled"`
	AgentStrategy    string          `json:"agent_strategy"`
	AgentTools       []string        `json:"agent_tools"`
	MaxIterations    int             `json:"max_iterations"`
	Network          bool            `json:"network"`
	CharacterProfile json.RawMessage `json:"character_profile"`
}

func (h *BotsHandler) setModelConfig(c echo.Context) error {
	ctx := c.Request().Context()
	botID := c.Param("id")
	if _, ok, err := h.Store.GetBot(ctx, botID); err != nil {
		return err
	} else if !ok {
		return apperr.NotFound("bot not found")
	}
	var req modelConfigRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.Model == "" {
		return apperr.New(apperr.CodeModelNotConfigured, http.StatusBadRequest, "model required")
	}
	if req.ModelMode != "" && req.ModelMode != store.ModelModeChat && req.ModelMode != store.ModelModeGenerate {
		return apperr.Invalid("model_mode must be chat or generate")
	}
	mc := store.ModelConfig{
		BotID:            botID,
		Provider:         req.Provider,
		Model:            req.Model,
		ModelMode:        req.ModelMode,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		NumCtx:           req.NumCtx,
		NumPredict:       req.NumPredict,
		Stop:             req.Stop,
		AgentEnabled:     req.AgentEnabled,
		AgentStrategy:    req.AgentStrategy,
		AgentTools:       req.AgentTools,
		MaxIterations:    req.MaxIterations,
		Network:          req.Network,
		CharacterProfile: req.CharacterProfile,
	}
	if err := h.Store.UpsertModelConfig(ctx, mc); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderModelConfig(mc))
}

type modelConfigDTO struct {
	BotID            string          `json:"bot_id"`
	Provider         string          `json:"provider,omitempty"`
	Model            string          `json:"model"`
	ModelMode        string          `json:"model_mode,omitempty"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	NumCtx           int             `json:"num_ctx"`
	NumPredict       int             `json:"num_predict"`
	Stop             []string        `json:"stop,omitempty"`
	AgentEnabled     bool            `json:"agent_enabled"`
	AgentStrategy    string          `json:"agent_strategy,omitempty"`
	AgentTools       []string        `json:"agent_tools,omitempty"`
	MaxIterations    int             `json:"max_iterations"`
	Network          bool            `json:"network"`
	CharacterProfile json.RawMessage `json:"character_profile,omitempty"`
}

func renderModelConfig(mc store.ModelConfig) modelConfigDTO {
	return modelConfigDTO{
		BotID:            mc.BotID,
		Provider:         mc.Provider,
		Model:            mc.Model,
		ModelMode:        mc.ModelMode,
		Temperature:      mc.Temperature,
		TopP:             mc.TopP,
		NumCtx:           mc.NumCtx,
		NumPredict:       mc.NumPredict,
		Stop:             mc.Stop,
		AgentEnabled:     mc.AgentEnabled,
		AgentStrategy:    mc.AgentStrategy,
		AgentTools:       mc.AgentTools,
		MaxIterations:    mc.MaxIterations,
		Network:          mc.Network,
		CharacterProfile: mc.CharacterProfile,
	}
}
