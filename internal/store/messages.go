package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// AgentThought statuses. Status progresses forward-only.
const (
	ThoughtLLMStarted  = "llm_started"
	ThoughtLLMEnd      = "llm_end"
	ThoughtToolStarted = "tool_started"
	ThoughtToolEnd     = "tool_end"
)

// Message is one turn. Answer accumulates during streaming and is persisted
// once at message_end. A message with IsStopped set is terminal.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Query          string
	Answer         string
	Files          []FileRef
	PromptTokens   int
	OutputTokens   int
	Metadata       map[string]interface{}
	PromptMessages []PromptMessage
	IsStopped      bool
	AgentBased     bool
	CreatedAt      time.Time
}

func (Message) StoreEntity() {}

// PromptMessage is one role-tagged turn of the prompt that produced the
// answer, persisted at finalize. Image payloads arrive pre-truncated.
type PromptMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// FileRef is an attachment reference stored with a message. Base64 payloads
// are truncated before storage.
type FileRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
	Data string `json:"data,omitempty"`
}

// AgentThought is one persisted reasoning step of an agent run. Position is
// dense per message, assigned in callback-fire order.
type AgentThought struct {
	ID           string
	MessageID    string
	Position     int
	Thought      string
	Tool         string
	ToolInput    string
	Observation  string
	Status       string
	LatencyMs    int64
	PromptTokens int
	OutputTokens int
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}

func (AgentThought) StoreEntity() {}

// RetrieverResource is a retrieval citation attached to a message.
type RetrieverResource struct {
	ID             string
	MessageID      string
	CollectionName string
	DocumentName   string
	DocumentPath   string
	Content        string
	Score          float64
	StartIndex     int
	CreatedAt      time.Time
}

func (RetrieverResource) StoreEntity() {}

func (s *Store) CreateMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now()
	files, err := json.Marshal(m.Files)
	if err != nil {
		return Message{}, fmt.Errorf("encode files: %w", err)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return Message{}, fmt.Errorf("encode metadata: %w", err)
	}
	prompt, err := encodePromptMessages(m.PromptMessages)
	if err != nil {
		return Message{}, err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, role, query, answer, files, prompt_tokens, output_tokens,
                      metadata, prompt_messages, is_stopped, agent_based, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, m.ID, m.ConversationID, m.Role, m.Query, m.Answer, files, m.PromptTokens, m.OutputTokens,
		meta, prompt, m.IsStopped, m.AgentBased, m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

func scanMessage(scan func(dest ...interface{}) error) (Message, error) {
	var m Message
	var files, meta, prompt []byte
	err := scan(&m.ID, &m.ConversationID, &m.Role, &m.Query, &m.Answer, &files,
		&m.PromptTokens, &m.OutputTokens, &meta, &prompt, &m.IsStopped, &m.AgentBased, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	if len(files) > 0 {
		_ = json.Unmarshal(files, &m.Files)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m.Metadata)
	}
	if len(prompt) > 0 {
		_ = json.Unmarshal(prompt, &m.PromptMessages)
	}
	return m, nil
}

func encodePromptMessages(msgs []PromptMessage) ([]byte, error) {
	if msgs == nil {
		msgs = []PromptMessage{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode prompt messages: %w", err)
	}
	return b, nil
}

const messageColumns = `id, conversation_id, role, query, answer, files, prompt_tokens, output_tokens,
metadata, prompt_messages, is_stopped, agent_based, created_at`

func (s *Store) GetMessage(ctx context.Context, id string) (Message, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("get message: %w", err)
	}
	return m, true, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+messageColumns+` FROM messages
WHERE conversation_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3
`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FinalizeMessage persists the accumulated answer, token counts, metadata and
// the prompt that produced the answer at stream end.
func (s *Store) FinalizeMessage(ctx context.Context, id, answer string, promptTokens, outputTokens int, metadata map[string]interface{}, promptMsgs []PromptMessage, stopped bool) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	prompt, err := encodePromptMessages(promptMsgs)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE messages SET answer = $2, prompt_tokens = $3, output_tokens = $4, metadata = $5,
  prompt_messages = $6, is_stopped = $7
WHERE id = $1
`, id, answer, promptTokens, outputTokens, meta, prompt, stopped)
	if err != nil {
		return fmt.Errorf("finalize message: %w", err)
	}
	return nil
}

// UpdateMessageAnswer rewrites the answer text of a finished message.
func (s *Store) UpdateMessageAnswer(ctx context.Context, id, answer string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE messages SET answer = $2 WHERE id = $1`, id, answer)
	if err != nil {
		return fmt.Errorf("update message answer: %w", err)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// NextThoughtPosition reserves the next dense position for a message.
func (s *Store) NextThoughtPosition(ctx context.Context, messageID string) (int, error) {
	var max sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
SELECT MAX(position) FROM agent_thoughts WHERE message_id = $1
`, messageID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next thought position: %w", err)
	}
	return int(max.Int64) + 1, nil
}

func (s *Store) CreateAgentThought(ctx context.Context, t AgentThought) (AgentThought, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return AgentThought{}, fmt.Errorf("encode thought metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO agent_thoughts (id, message_id, position, thought, tool, tool_input, observation,
                            status, latency_ms, prompt_tokens, output_tokens, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, t.ID, t.MessageID, t.Position, t.Thought, t.Tool, t.ToolInput, t.Observation,
		t.Status, t.LatencyMs, t.PromptTokens, t.OutputTokens, meta, t.CreatedAt)
	if err != nil {
		return AgentThought{}, fmt.Errorf("create agent thought: %w", err)
	}
	return t, nil
}

// UpdateAgentThought closes out a thought with its observation and timing.
func (s *Store) UpdateAgentThought(ctx context.Context, t AgentThought) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode thought metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE agent_thoughts SET thought = $2, observation = $3, status = $4, latency_ms = $5,
  prompt_tokens = $6, output_tokens = $7, metadata = $8
WHERE id = $1
`, t.ID, t.Thought, t.Observation, t.Status, t.LatencyMs, t.PromptTokens, t.OutputTokens, meta)
	if err != nil {
		return fmt.Errorf("update agent thought: %w", err)
	}
	return nil
}

func (s *Store) GetAgentThought(ctx context.Context, id string) (AgentThought, bool, error) {
	var t AgentThought
	var meta []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, message_id, position, thought, tool, tool_input, observation, status,
       latency_ms, prompt_tokens, output_tokens, metadata, created_at
FROM agent_thoughts WHERE id = $1
`, id).Scan(&t.ID, &t.MessageID, &t.Position, &t.Thought, &t.Tool, &t.ToolInput, &t.Observation,
		&t.Status, &t.LatencyMs, &t.PromptTokens, &t.OutputTokens, &meta, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return AgentThought{}, false, nil
	}
	if err != nil {
		return AgentThought{}, false, fmt.Errorf("get agent thought: %w", err)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &t.Metadata)
	}
	return t, true, nil
}

func (s *Store) ListAgentThoughts(ctx context.Context, messageID string) ([]AgentThought, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, message_id, position, thought, tool, tool_input, observation, status,
       latency_ms, prompt_tokens, output_tokens, metadata, created_at
FROM agent_thoughts WHERE message_id = $1 ORDER BY position
`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list agent thoughts: %w", err)
	}
	defer rows.Close()
	var out []AgentThought
	for rows.Next() {
		var t AgentThought
		var meta []byte
		if err := rows.Scan(&t.ID, &t.MessageID, &t.Position, &t.Thought, &t.Tool, &t.ToolInput,
			&t.Observation, &t.Status, &t.LatencyMs, &t.PromptTokens, &t.OutputTokens, &meta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent thought: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &t.Metadata)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AddRetrieverResources(ctx context.Context, messageID string, resources []RetrieverResource) error {
	for _, r := range resources {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := s.DB.ExecContext(ctx, `
INSERT INTO retriever_resources (id, message_id, collection_name, document_name, document_path,
                                 content, score, start_index, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
`, id, messageID, r.CollectionName, r.DocumentName, r.DocumentPath, r.Content, r.Score, r.StartIndex)
		if err != nil {
			return fmt.Errorf("add retriever resource: %w", err)
		}
	}
	return nil
}

func (s *Store) ListRetrieverResources(ctx context.Context, messageID string) ([]RetrieverResource, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, message_id, collection_name, document_name, document_path, content, score, start_index, created_at
FROM retriever_resources WHERE message_id = $1 ORDER BY created_at
`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list retriever resources: %w", err)
	}
	defer rows.Close()
	var out []RetrieverResource
	for rows.Next() {
		var r RetrieverResource
		if err := rows.Scan(&r.ID, &r.MessageID, &r.CollectionName, &r.DocumentName, &r.DocumentPath,
			&r.Content, &r.Score, &r.StartIndex, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan retriever resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
