package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/knowledge"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/runner"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/telemetry"
)

// Server wires the HTTP surface over the chat, knowledge and admin handlers.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger *log.Logger
}

// New assembles routes and middleware over already-initialized dependencies.
func New(cfg *config.Config, st *store.Store, provider llm.Provider, retriever *knowledge.Retriever, flags *event.FlagStore) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = errorHandler(baseLogger)

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(telemetry.Handler()))

	secret := []byte(cfg.Server.JWTSecret)
	dispatcher := runner.NewDispatcher(st, provider, retriever, flags, cfg)

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	chat := &ChatHandler{Store: st, Dispatcher: dispatcher, Flags: flags, Logger: baseLogger}
	chat.Register(api.Group("/chat"), secret)

	conv := &ConversationsHandler{Store: st, Provider: provider, Model: cfg.LLM.Routing.Fallback}
	conv.Register(api, secret)

	bots := &BotsHandler{Store: st}
	bots.Register(api, secret)

	kn := &KnowledgeHandler{Store: st, Cfg: cfg}
	kn.Register(api.Group("/knowledge"), secret)

	mcps := &MCPHandler{Store: st, Cfg: cfg}
	mcps.Register(api.Group("/mcp"), secret)

	tts := &TTSHandler{Provider: provider, Cfg: cfg.Tools.TTS}
	tts.Register(api.Group("/tts"), secret)

	return &Server{echo: e, cfg: cfg, logger: baseLogger}
}

// Start blocks serving HTTP on the configured address.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Run initializes shared dependencies from config and serves until the
// process exits. Migrations are applied before the first request.
func Run(cfg *config.Config) error {
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		log.Printf("[MIGRATE] %v", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}
	flags := event.NewFlagStore(rdb)

	provider, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		return err
	}

	vectors, err := knowledge.NewMilvusStore(ctx, cfg.Storage.Milvus)
	if err != nil {
		return err
	}
	retriever := knowledge.NewRetriever(vectors, provider)

	return New(cfg, st, provider, retriever, flags).Start()
}

// errorHandler renders every handler error as the structured {errcode, msg}
// payload, mapping echo's own errors onto the code enum.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ae := apperr.AsError(err)
		if he, ok := err.(*echo.HTTPError); ok {
			ae = echoError(he)
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", ae.Status, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(ae.Status, map[string]interface{}{
				"errcode": int(ae.Code),
				"msg":     ae.Msg,
			})
		}
	}
}

func echoError(he *echo.HTTPError) *apperr.Error {
	msg := http.StatusText(he.Code)
	if he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}
	code := apperr.CodeInternal
	switch he.Code {
	case http.StatusBadRequest:
		code = apperr.CodeInvalidRequest
	case http.StatusUnauthorized:
		code = apperr.CodeUnauthorized
	case http.StatusNotFound:
		code = apperr.CodeNotFound
	}
	return apperr.New(code, he.Code, msg)
}
