package server

import (
	"encoding/base64"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/llm"
)

// TTSHandler synthesizes speech for a text snippet.
type TTSHandler struct {
	Provider llm.Provider
	Cfg      config.TTSConfig
}

func (h *TTSHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.POST("", h.speak)
}

func (h *TTSHandler) speak(c echo.Context) error {
	var req struct {
		Text   string `json:"text"`
		Voice  string `json:"voice"`
		Format string `json:"format"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid(err.Error())
	}
	if req.Text == "" {
		return apperr.Invalid("text required")
	}
	voice := req.Voice
	if voice == "" {
		voice = h.Cfg.Voice
	}
	format := req.Format
	if format == "" {
		format = h.Cfg.Format
	}
	audio, err := h.Provider.Speech(c.Request().Context(), h.Cfg.Model, voice, format, req.Text)
	if err != nil {
		return apperr.Wrap(apperr.CodeProviderError, http.StatusInternalServerError, "speech synthesis failed", err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"format": format,
		"audio":  base64.StdEncoding.EncodeToString(audio),
	})
}
