package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Bot categories.
const (
	BotCategoryAssistant = "assistant"
	BotCategoryRoleplay  = "roleplay"
)

// Agent strategies.
const (
	StrategyReactDeepResearch = "REACT_DEEP_RESEARCH"
)

// Model modes. Chat sends role-tagged messages; generate concatenates the
// whole prompt into one completion string.
const (
	ModelModeChat     = "chat"
	ModelModeGenerate = "generate"
)

// Bot is a configured assistant.
type Bot struct {
	ID           string
	WorkspaceID  string
	Name         string
	Category     string
	Description  string
	SystemPrompt string
	CreatedAt    time.Time
}

func (Bot) StoreEntity() {}

// ModelConfig holds a bot's provider binding and completion parameters.
// CharacterProfile is the roleplay profile JSON when the bot is a character.
type ModelConfig struct {
	BotID            string
	Provider         string
	Model            string
	ModelMode        string
	Temperature      float64
	TopP             float64
	NumCtx           int
	NumPredict       int
	Stop             []string
	AgentEnabled     bool
	AgentStrategy    string
	AgentTools       []string
	MaxIterations    int
	Network          bool
	CharacterProfile json.RawMessage
}

func (ModelConfig) StoreEntity() {}

func (s *Store) CreateBot(ctx context.Context, b Bot) (Bot, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now()
	if b.Category == "" {
		b.Category = BotCategoryAssistant
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO bots (id, workspace_id, name, category, description, system_prompt, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, b.ID, b.WorkspaceID, b.Name, b.Category, b.Description, b.SystemPrompt, b.CreatedAt)
	if err != nil {
		return Bot{}, fmt.Errorf("create bot: %w", err)
	}
	return b, nil
}

func (s *Store) GetBot(ctx context.Context, id string) (Bot, bool, error) {
	var b Bot
	err := s.DB.QueryRowContext(ctx, `
SELECT id, workspace_id, name, category, description, system_prompt, created_at
FROM bots WHERE id = $1
`, id).Scan(&b.ID, &b.WorkspaceID, &b.Name, &b.Category, &b.Description, &b.SystemPrompt, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return Bot{}, false, nil
	}
	if err != nil {
		return Bot{}, false, fmt.Errorf("get bot: %w", err)
	}
	return b, true, nil
}

func (s *Store) ListBots(ctx context.Context, workspaceID string) ([]Bot, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, name, category, description, system_prompt, created_at
FROM bots WHERE workspace_id = $1 ORDER BY created_at
`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()
	var out []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.WorkspaceID, &b.Name, &b.Category, &b.Description, &b.SystemPrompt, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBot(ctx context.Context, b Bot) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE bots SET name = $2, category = $3, description = $4, system_prompt = $5 WHERE id = $1
`, b.ID, b.Name, b.Category, b.Description, b.SystemPrompt)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	return nil
}

func (s *Store) DeleteBot(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	return nil
}

func (s *Store) UpsertModelConfig(ctx context.Context, mc ModelConfig) error {
	profile := mc.CharacterProfile
	if profile == nil {
		profile = json.RawMessage("null")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO bot_model_configs
  (bot_id, provider, model, model_mode, temperature, top_p, num_ctx, num_predict, stop,
   agent_enabled, agent_strategy, agent_tools, max_iterations, network, character_profile)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (bot_id) DO UPDATE SET
  provider          = EXCLUDED.provider,
  model             = EXCLUDED.model,
  model_mode        = EXCLUDED.model_mode,
  temperature       = EXCLUDED.temperature,
  top_p             = EXCLUDED.top_p,
  num_ctx           = EXCLUDED.num_ctx,
  num_predict       = EXCLUDED.num_predict,
  stop              = EXCLUDED.stop,
  agent_enabled     = EXCLUDED.agent_enabled,
  agent_strategy    = EXCLUDED.agent_strategy,
  agent_tools       = EXCLUDED.agent_tools,
  max_iterations    = EXCLUDED.max_iterations,
  network           = EXCLUDED.network,
  character_profile = EXCLUDED.character_profile
`, mc.BotID, mc.Provider, mc.Model, mc.ModelMode, mc.Temperature, mc.TopP, mc.NumCtx, mc.NumPredict,
		pq.Array(mc.Stop), mc.AgentEnabled, mc.AgentStrategy, pq.Array(mc.AgentTools),
		mc.MaxIterations, mc.Network, profile)
	if err != nil {
		return fmt.Errorf("upsert model config: %w", err)
	}
	return nil
}

func (s *Store) GetModelConfig(ctx context.Context, botID string) (ModelConfig, bool, error) {
	var mc ModelConfig
	var profile []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT bot_id, provider, model, model_mode, temperature, top_p, num_ctx, num_predict, stop,
       agent_enabled, agent_strategy, agent_tools, max_iterations, network, character_profile
FROM bot_model_configs WHERE bot_id = $1
`, botID).Scan(&mc.BotID, &mc.Provider, &mc.Model, &mc.ModelMode, &mc.Temperature, &mc.TopP, &mc.NumCtx,
		&mc.NumPredict, pq.Array(&mc.Stop), &mc.AgentEnabled, &mc.AgentStrategy,
		pq.Array(&mc.AgentTools), &mc.MaxIterations, &mc.Network, &profile)
	if err == sql.ErrNoRows {
		return ModelConfig{}, false, nil
	}
	if err != nil {
		return ModelConfig{}, false, fmt.Errorf("get model config: %w", err)
	}
	if len(profile) > 0 && string(profile) != "null" {
		mc.CharacterProfile = profile
	}
	return mc, true, nil
}
