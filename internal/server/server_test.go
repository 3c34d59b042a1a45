package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/llm"
)

type stubProvider struct {
	speech    []byte
	speechErr error
}

func (s *stubProvider) Generate(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (string, llm.Usage, error) {
	return "", llm.Usage{}, nil
}

func (s *stubProvider) GenerateWithTools(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSpec, opts llm.Options) (llm.Completion, error) {
	return llm.Completion{}, nil
}

func (s *stubProvider) Stream(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (s *stubProvider) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	return nil, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func (s *stubProvider) Speech(ctx context.Context, model, voice, format, input string) ([]byte, error) {
	return s.speech, s.speechErr
}

func TestErrorHandlerAppError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), rec)

	errorHandler(testLogger())(apperr.NotFound("conversation not found"), c)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Errcode int    `json:"errcode"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Errcode != int(apperr.CodeNotFound) {
		t.Errorf("errcode = %d, want %d", body.Errcode, apperr.CodeNotFound)
	}
	if body.Msg != "conversation not found" {
		t.Errorf("msg = %q", body.Msg)
	}
}

func TestErrorHandlerEchoError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), rec)

	errorHandler(testLogger())(echo.ErrNotFound, c)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Errcode int `json:"errcode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Errcode != int(apperr.CodeNotFound) {
		t.Errorf("errcode = %d, want %d", body.Errcode, apperr.CodeNotFound)
	}
}

func TestErrorHandlerUnknownError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), rec)

	errorHandler(testLogger())(context.DeadlineExceeded, c)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestWithAuth(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	handler := withAuth(secret)(func(c echo.Context) error {
		return c.String(http.StatusOK, userID(c))
	})

	token, err := signJWT("user-1", secret, tokenTTL)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if rec.Body.String() != "user-1" {
			t.Errorf("user id = %q, want user-1", rec.Body.String())
		}
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "auth", Value: token})
		rec := httptest.NewRecorder()
		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if rec.Body.String() != "user-1" {
			t.Errorf("user id = %q, want user-1", rec.Body.String())
		}
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		err := handler(e.NewContext(req, httptest.NewRecorder()))
		ae := apperr.AsError(err)
		if ae.Status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", ae.Status)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged, err := signJWT("user-1", []byte("other-secret"), tokenTTL)
		if err != nil {
			t.Fatalf("signJWT: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		err = handler(e.NewContext(req, httptest.NewRecorder()))
		ae := apperr.AsError(err)
		if ae.Status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", ae.Status)
		}
	})
}

func TestTTSHandler(t *testing.T) {
	h := &TTSHandler{
		Provider: &stubProvider{speech: []byte("audio-bytes")},
		Cfg:      config.TTSConfig{Model: "tts-1", Voice: "alloy", Format: "mp3"},
	}
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.speak(e.NewContext(req, rec)); err != nil {
		t.Fatalf("speak: %v", err)
	}
	var body struct {
		Format string `json:"format"`
		Audio  string `json:"audio"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Format != "mp3" {
		t.Errorf("format = %q, want mp3", body.Format)
	}
	if body.Audio == "" {
		t.Error("audio payload empty")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.speak(e.NewContext(req, httptest.NewRecorder()))
	if apperr.AsError(err).Status != http.StatusBadRequest {
		t.Errorf("empty text should be rejected, got %v", err)
	}
}

func TestDefaultTitle(t *testing.T) {
	if got := defaultTitle("  What is the capital of France?  "); got != "What is the capital of France?" {
		t.Errorf("title = %q", got)
	}
	long := strings.Repeat("word ", 20)
	if got := defaultTitle(long); len(got) != 40 {
		t.Errorf("long title not truncated: %q", got)
	}
	if got := defaultTitle("   "); got != "New conversation" {
		t.Errorf("blank query title = %q", got)
	}
}
