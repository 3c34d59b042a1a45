package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/tooling"
)

// MCPHandler covers MCP server configs and live tool discovery.
type MCPHandler struct {
	Store *store.Store
	Cfg   *config.Config
}

func (h *MCPHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.GET("/servers", h.list)
	g.POST("/server", h.create)
	g.PUT("/server/:id", h.update)
	g.DELETE("/server/:id", h.delete)
	g.GET("/server/:id/tools", h.tools)
}

type mcpServerRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers"`
	Enabled     bool              `json:"enabled"`
}

func (h *MCPHandler) list(c echo.Context) error {
	ws := c.QueryParam("workspace_id")
	if ws == "" {
		return apperr.Invalid("workspace_id required")
	}
	servers, err := h.Store.ListMCPServers(c.Request().Context(), ws, false)
	if err != nil {
		return err
	}
	out := make([]mcpServerDTO, 0, len(servers))
	for _, s := range servers {
		out = append(out, renderMCPServer(s))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MCPHandler) create(c echo.Context) error {
	var req mcpServerRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.WorkspaceID == "" || req.Name == "" {
		return apperr.Invalid("workspace_id and name required")
	}
	if req.Type != "stdio" && req.Type != "sse" {
		return apperr.Invalid("type must be stdio or sse")
	}
	s, err := h.Store.CreateMCPServer(c.Request().Context(), store.MCPServer{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Type:        req.Type,
		Command:     req.Command,
		Args:        req.Args,
		Env:         req.Env,
		URL:         req.URL,
		Headers:     req.Headers,
		Enabled:     req.Enabled,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, renderMCPServer(s))
}

func (h *MCPHandler) update(c echo.Context) error {
	ctx := c.Request().Context()
	s, ok, err := h.Store.GetMCPServer(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("mcp server not found")
	}
	var req mcpServerRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.Name != "" {
		s.Name = req.Name
	}
	if req.Type != "" {
		s.Type = req.Type
	}
	s.Command = req.Command
	s.Args = req.Args
	s.Env = req.Env
	s.URL = req.URL
	s.Headers = req.Headers
	s.Enabled = req.Enabled
	if err := h.Store.UpdateMCPServer(ctx, s); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderMCPServer(s))
}

func (h *MCPHandler) delete(c echo.Context) error {
	if err := h.Store.DeleteMCPServer(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "success"})
}

// tools connects to the configured server and lists the tools it exposes.
func (h *MCPHandler) tools(c echo.Context) error {
	ctx := c.Request().Context()
	s, ok, err := h.Store.GetMCPServer(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("mcp server not found")
	}
	pool := tooling.NewMCPPool(h.Cfg.Tools.MCPInitTimeout)
	defer pool.Teardown()
	pool.Setup(ctx, []config.MCPServerEntry{{
		Name: s.Name, Enabled: true, Type: s.Type,
		Command: s.Command, Args: s.Args, Env: s.Env,
		URL: s.URL, Headers: s.Headers,
	}})
	tools := pool.Tools()
	out := make([]map[string]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]string{
			"name":        t.Name,
			"description": t.Description,
		})
	}
	return c.JSON(http.StatusOK, out)
}
