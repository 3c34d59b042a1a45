package tooling

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/llm"
)

const ttsSchema = `{
  "type": "object",
  "properties": {
    "text": {"type": "string", "description": "Text to synthesize."},
    "voice": {"type": "string", "description": "Optional voice override."}
  },
  "required": ["text"]
}`

type ttsResult struct {
	Success bool   `json:"success"`
	Audio   string `json:"audio,omitempty"`
	Format  string `json:"format,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewTTSTool wraps speech synthesis. Failures come back as
// {"success":false,"error":...} content; the tool never raises.
func NewTTSTool(provider llm.Provider, cfg config.TTSConfig) Tool {
	return Tool{
		Name:        "tts",
		Description: "Synthesize speech for a text and return base64-encoded audio.",
		Schema:      json.RawMessage(ttsSchema),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Text  string `json:"text"`
				Voice string `json:"voice"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return marshalTTS(ttsResult{Success: false, Error: "invalid arguments: " + err.Error()}), nil
			}
			voice := in.Voice
			if voice == "" {
				voice = cfg.Voice
			}
			audio, err := provider.Speech(ctx, cfg.Model, voice, cfg.Format, in.Text)
			if err != nil {
				return marshalTTS(ttsResult{Success: false, Error: err.Error()}), nil
			}
			return marshalTTS(ttsResult{
				Success: true,
				Audio:   base64.StdEncoding.EncodeToString(audio),
				Format:  cfg.Format,
			}), nil
		},
	}
}

func marshalTTS(r ttsResult) string {
	b, _ := json.Marshal(r)
	return string(b)
}
