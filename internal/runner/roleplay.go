package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/memory"
	"github.com/surveyor-ai/surveyor/internal/roleplay"
	"github.com/surveyor-ai/surveyor/internal/store"
)

// chatMetaEffectsKey is where timed world-info state lives inside the
// conversation's chat metadata.
const chatMetaEffectsKey = "world_info_effects"

// runRoleplay is the character pipeline: world-info scan over the recent
// buffer, persona composition, one streamed completion, then the timed-effect
// writeback that makes sticky and cooldown counters survive the turn.
func (d *Dispatcher) runRoleplay(ctx context.Context, bot store.Bot, mc store.ModelConfig, req Request, q *event.Queue) error {
	profile, err := roleplay.ParseProfile(mc.CharacterProfile)
	if err != nil {
		return apperr.Invalid(fmt.Sprintf("bot %s has no usable character profile: %v", bot.ID, err))
	}

	conv, ok, err := d.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("conversation not found")
	}

	history, err := d.history(ctx, req)
	if err != nil {
		return err
	}

	effects := loadEffects(conv.ChatMetadata)
	effects.Tick()

	userName := req.Inputs["user_name"]
	if userName == "" {
		userName = "User"
	}

	in := roleplay.NewComposer(profile).Compose(scanBuffer(history, req.Query), effects, mc.NumCtx, userName)
	in.SystemPrompt = bot.SystemPrompt
	for k, v := range req.Inputs {
		if _, taken := in.Variables[k]; !taken {
			in.Variables[k] = v
		}
	}
	in.History = history
	in.Query = req.Query
	in.Files = req.Files
	in.NumCtx = mc.NumCtx
	in.NumPredict = mc.NumPredict

	var msgs []llm.Message
	if mc.ModelMode == store.ModelModeGenerate {
		msgs = generatePrompt(in, history, req.Query)
	} else {
		msgs = memory.NewAssembler().Assemble(in)
	}

	answer, usage, err := d.streamToQueue(ctx, req.TaskID, d.chatModel(mc), msgs, completionOptions(mc), q)
	if err != nil {
		return err
	}

	if err := d.saveEffects(ctx, conv, effects); err != nil {
		d.logger.Printf("persist world-info effects for %s: %v", conv.ID, err)
	}
	return q.PublishMessageEnd(ctx, endResult(answer, usage, msgs), event.SourceLLM)
}

// generatePrompt renders the composed input for completion-style models that
// take one flat string instead of role-tagged messages. Turns are labeled with
// the character and user names so the model can keep speakers apart.
func generatePrompt(in memory.Input, history []store.Message, query string) []llm.Message {
	charName := in.Variables["char"]
	userName := in.Variables["user"]
	var lines []string
	for _, m := range history {
		if m.Query != "" {
			lines = append(lines, speakerLine(userName, m.Query))
		}
		if m.Answer != "" {
			lines = append(lines, speakerLine(charName, m.Answer))
		}
	}
	prompt := roleplay.Concatenate(in, lines, speakerLine(userName, query))
	return []llm.Message{{Role: llm.RoleUser, Content: prompt}}
}

func speakerLine(name, text string) string {
	if name == "" {
		return text
	}
	return name + ": " + text
}

// scanBuffer flattens the conversation into the chronological text buffer the
// world-info scanner walks, current query last.
func scanBuffer(history []store.Message, query string) []string {
	buf := make([]string, 0, len(history)*2+1)
	for _, m := range history {
		if m.Query != "" {
			buf = append(buf, m.Query)
		}
		if m.Answer != "" {
			buf = append(buf, m.Answer)
		}
	}
	return append(buf, query)
}

// loadEffects decodes timed world-info state from chat metadata, starting
// fresh when absent or malformed.
func loadEffects(meta map[string]interface{}) *roleplay.TimedEffects {
	raw, ok := meta[chatMetaEffectsKey]
	if !ok {
		return roleplay.NewTimedEffects()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return roleplay.NewTimedEffects()
	}
	effects := roleplay.NewTimedEffects()
	if err := json.Unmarshal(b, effects); err != nil {
		return roleplay.NewTimedEffects()
	}
	if effects.Sticky == nil {
		effects.Sticky = map[string]int{}
	}
	if effects.Cooldown == nil {
		effects.Cooldown = map[string]int{}
	}
	return effects
}

func (d *Dispatcher) saveEffects(ctx context.Context, conv store.Conversation, effects *roleplay.TimedEffects) error {
	b, err := json.Marshal(effects)
	if err != nil {
		return err
	}
	var plain map[string]interface{}
	if err := json.Unmarshal(b, &plain); err != nil {
		return err
	}
	meta := conv.ChatMetadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta[chatMetaEffectsKey] = plain
	return d.store.SetChatMetadata(ctx, conv.ID, meta)
}
