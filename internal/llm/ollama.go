package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
)

const ollamaMemoryMarker = "model requires more system memory"

// ollamaProvider talks to a local Ollama daemon over its native HTTP API.
type ollamaProvider struct {
	baseURL string
	client  *http.Client
}

func newOllamaProvider(cfg config.LLMProvider) *ollamaProvider {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &ollamaProvider{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func toOllamaMessages(msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{Role: m.Role, Content: m.Content, Images: m.Images}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func ollamaOptions(opts Options) map[string]interface{} {
	o := map[string]interface{}{}
	if opts.Temperature != 0 {
		o["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		o["num_predict"] = opts.MaxTokens
	}
	if opts.NumCtx > 0 {
		o["num_ctx"] = opts.NumCtx
	}
	if len(opts.Stop) > 0 {
		o["stop"] = opts.Stop
	}
	if len(o) == 0 {
		return nil
	}
	return o
}

// mapError translates daemon failures into the structured codes the stream
// pipeline reports to clients.
func (p *ollamaProvider) mapError(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.CodeOllamaConnection, http.StatusBadGateway,
		"ollama is unreachable", err)
}

func (p *ollamaProvider) mapStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if strings.Contains(msg, ollamaMemoryMarker) {
		return apperr.Wrap(apperr.CodeOllamaMemory, http.StatusInsufficientStorage,
			"model requires more system memory than is available", fmt.Errorf("ollama: %s", msg))
	}
	switch status {
	case http.StatusNotFound:
		return apperr.Wrap(apperr.CodeOllamaModelNotFound, http.StatusNotFound,
			"model is not pulled on the ollama daemon", fmt.Errorf("ollama: %s", msg))
	case http.StatusBadGateway:
		return apperr.Wrap(apperr.CodeOllamaInvoke, http.StatusBadGateway,
			"ollama failed to run the model", fmt.Errorf("ollama: %s", msg))
	default:
		return apperr.Wrap(apperr.CodeOllamaInvoke, http.StatusBadGateway,
			fmt.Sprintf("ollama returned status %d", status), fmt.Errorf("ollama: %s", msg))
	}
}

func (p *ollamaProvider) chat(ctx context.Context, req ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.mapError(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, p.mapStatus(resp.StatusCode, body)
	}
	return resp, nil
}

func (p *ollamaProvider) Generate(ctx context.Context, model string, msgs []Message, opts Options) (string, Usage, error) {
	req := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(msgs),
		Options:  ollamaOptions(opts),
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	resp, err := p.chat(ctx, req)
	if err != nil {
		return "", Usage{}, err
	}
	defer resp.Body.Close()
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Usage{}, fmt.Errorf("decode ollama response: %w", err)
	}
	usage := Usage{PromptTokens: out.PromptEvalCount, OutputTokens: out.EvalCount}
	return out.Message.Content, usage, nil
}

func (p *ollamaProvider) GenerateWithTools(ctx context.Context, model string, msgs []Message, tools []ToolSpec, opts Options) (Completion, error) {
	req := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(msgs),
		Options:  ollamaOptions(opts),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	resp, err := p.chat(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("decode ollama response: %w", err)
	}
	result := Completion{
		Content: out.Message.Content,
		Usage:   Usage{PromptTokens: out.PromptEvalCount, OutputTokens: out.EvalCount},
	}
	for _, tc := range out.Message.ToolCalls {
		// Ollama does not assign call ids; mint one so tool result
		// messages can reference their call.
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

func (p *ollamaProvider) Stream(ctx context.Context, model string, msgs []Message, opts Options) (<-chan StreamChunk, error) {
	req := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(msgs),
		Stream:   true,
		Options:  ollamaOptions(opts),
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	resp, err := p.chat(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Done {
				usage = Usage{PromptTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount}
				break
			}
			if chunk.Message.Content == "" {
				continue
			}
			select {
			case out <- StreamChunk{Delta: chunk.Message.Content}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- StreamChunk{Done: true, Usage: usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *ollamaProvider) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]interface{}{"model": model, "input": input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.mapError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, p.mapStatus(resp.StatusCode, body)
	}
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embeddings, nil
}

func (p *ollamaProvider) Speech(ctx context.Context, model, voice, format, input string) ([]byte, error) {
	return nil, fmt.Errorf("speech synthesis is not supported by the ollama provider")
}
