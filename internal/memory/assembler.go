package memory

import (
	"fmt"
	"log"
	"strings"

	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
)

// safetyPadding reserves headroom between the assembled context and the
// model's generation budget.
const safetyPadding = 64

// maxInlineBase64 caps base64 image payloads forwarded inline to the model.
const maxInlineBase64 = 512 * 1024

// DepthInjection places a message N turns back from the end of history.
// Depth 0 sits directly before the current user turn.
type DepthInjection struct {
	Depth   int
	Role    string
	Content string
}

// Input is everything one chat turn needs assembled into a prompt list.
type Input struct {
	SystemPrompt string
	Variables    map[string]string

	// Anchored segments, already composed (world-info, personas).
	BeforeSystem []string
	AfterSystem  []string
	AtDepth      []DepthInjection

	Knowledge string
	History   []store.Message
	Query     string
	Files     []store.FileRef

	NumCtx     int
	NumPredict int
}

// Assembler builds the LLM input list under the model's context budget.
type Assembler struct {
	logger *log.Logger
}

func NewAssembler() *Assembler {
	return &Assembler{logger: log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)}
}

// Assemble renders the prompt list: system prompt with anchored segments,
// knowledge snippet, budgeted history window, then the current user turn.
// The user turn is never dropped; when it alone exceeds the budget a warning
// is logged and it is sent anyway.
func (a *Assembler) Assemble(in Input) []llm.Message {
	system := a.buildSystem(in)

	budget := in.NumCtx - in.NumPredict - safetyPadding
	if in.NumCtx <= 0 {
		budget = 0 // no declared window, no trimming
	}

	userMsg := a.buildUserTurn(in)

	used := llm.EstimateTokens(system) + llm.EstimateTokens(userMsg.Content)
	if budget > 0 && used > budget {
		a.logger.Printf("system prompt and user turn alone exceed the context budget (%d > %d tokens), sending anyway", used, budget)
	}

	history := a.windowHistory(in.History, budget-used)
	history = applyDepthInjections(history, in.AtDepth)

	msgs := make([]llm.Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, userMsg)
	return msgs
}

func (a *Assembler) buildSystem(in Input) string {
	var parts []string
	parts = append(parts, in.BeforeSystem...)
	if p := SubstituteVariables(in.SystemPrompt, in.Variables); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, in.AfterSystem...)
	if in.Knowledge != "" {
		parts = append(parts, "Use the following retrieved context when it is relevant:\n"+in.Knowledge)
	}
	return strings.Join(parts, "\n\n")
}

func (a *Assembler) buildUserTurn(in Input) llm.Message {
	msg := llm.Message{Role: llm.RoleUser, Content: SubstituteVariables(in.Query, in.Variables)}
	for _, f := range in.Files {
		switch {
		case f.URL != "":
			msg.Images = append(msg.Images, f.URL)
		case f.Data != "":
			data := f.Data
			if len(data) > maxInlineBase64 {
				a.logger.Printf("truncating inline image %s from %d bytes", f.Name, len(data))
				data = data[:maxInlineBase64]
			}
			msg.Images = append(msg.Images, data)
		}
	}
	return msg
}

// windowHistory keeps the newest turns that fit the remaining budget. The
// result stays in chronological order.
func (a *Assembler) windowHistory(history []store.Message, remaining int) []llm.Message {
	var out []llm.Message
	dropped := 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		var turns []llm.Message
		if m.Answer != "" {
			turns = append(turns, llm.Message{Role: llm.RoleAssistant, Content: m.Answer})
		}
		if m.Query != "" {
			turns = append(turns, llm.Message{Role: llm.RoleUser, Content: m.Query})
		}
		cost := 0
		for _, t := range turns {
			cost += llm.EstimateTokens(t.Content)
		}
		if remaining > 0 && cost > remaining {
			dropped = i + 1
			break
		}
		remaining -= cost
		out = append(out, turns...)
	}
	if dropped > 0 {
		a.logger.Printf("dropped %d oldest history turns over the context budget", dropped)
	}
	// Reverse back to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// applyDepthInjections inserts segments counted from the end of history.
func applyDepthInjections(history []llm.Message, injections []DepthInjection) []llm.Message {
	for _, inj := range injections {
		role := inj.Role
		if role == "" {
			role = llm.RoleSystem
		}
		pos := len(history) - inj.Depth
		if pos < 0 {
			pos = 0
		}
		if pos > len(history) {
			pos = len(history)
		}
		msg := llm.Message{Role: role, Content: inj.Content}
		history = append(history[:pos], append([]llm.Message{msg}, history[pos:]...)...)
	}
	return history
}

// SubstituteVariables replaces {{name}} placeholders. Unknown placeholders
// are left intact so prompt typos stay visible.
func SubstituteVariables(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, fmt.Sprintf("{{%s}}", k), v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
