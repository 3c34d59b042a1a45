package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation groups messages for one user/bot pair. Deletion is logical.
// ChatMetadata is an opaque map used by the roleplay engine for timed
// world-info effects; it survives across turns.
type Conversation struct {
	ID           string
	UserID       string
	BotID        string
	Title        string
	ChatMetadata map[string]interface{}
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Conversation) StoreEntity() {}

func (s *Store) CreateConversation(ctx context.Context, userID, botID, title string) (Conversation, error) {
	now := time.Now()
	c := Conversation{
		ID: uuid.NewString(), UserID: userID, BotID: botID, Title: title,
		ChatMetadata: map[string]interface{}{}, CreatedAt: now, UpdatedAt: now,
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, bot_id, title, chat_metadata, is_deleted, created_at, updated_at)
VALUES ($1,$2,$3,$4,'{}',FALSE,$5,$6)
`, c.ID, c.UserID, c.BotID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, bool, error) {
	var c Conversation
	var meta []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, bot_id, title, chat_metadata, is_deleted, created_at, updated_at
FROM conversations WHERE id = $1 AND is_deleted = FALSE
`, id).Scan(&c.ID, &c.UserID, &c.BotID, &c.Title, &meta, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("get conversation: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.ChatMetadata); err != nil {
			return Conversation{}, false, fmt.Errorf("decode chat metadata: %w", err)
		}
	}
	return c, true, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, bot_id, title, chat_metadata, is_deleted, created_at, updated_at
FROM conversations WHERE user_id = $1 AND is_deleted = FALSE
ORDER BY updated_at DESC LIMIT $2 OFFSET $3
`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		var meta []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.BotID, &c.Title, &meta, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &c.ChatMetadata)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE conversations SET title = $2, updated_at = NOW() WHERE id = $1
`, id, title)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

// DeleteConversation soft-deletes; messages stay attached to the dead row.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE conversations SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1
`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ClearConversation removes all messages (and cascaded thoughts/resources).
func (s *Store) ClearConversation(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

func (s *Store) SetChatMetadata(ctx context.Context, id string, meta map[string]interface{}) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode chat metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE conversations SET chat_metadata = $2, updated_at = NOW() WHERE id = $1
`, id, raw)
	if err != nil {
		return fmt.Errorf("set chat metadata: %w", err)
	}
	return nil
}

// BranchConversation copies a conversation into a new one containing every
// message created at or before the target message, re-parenting agent
// thoughts and retriever resources onto the copies. Runs in one transaction.
func (s *Store) BranchConversation(ctx context.Context, conversationID, messageID string) (Conversation, error) {
	src, ok, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s not found", conversationID)
	}
	target, ok, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return Conversation{}, err
	}
	if !ok || target.ConversationID != conversationID {
		return Conversation{}, fmt.Errorf("message %s not found in conversation %s", messageID, conversationID)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("begin branch: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	branch := Conversation{
		ID: uuid.NewString(), UserID: src.UserID, BotID: src.BotID,
		Title: src.Title + " (branch)", ChatMetadata: src.ChatMetadata,
		CreatedAt: now, UpdatedAt: now,
	}
	meta, _ := json.Marshal(branch.ChatMetadata)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, bot_id, title, chat_metadata, is_deleted, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,FALSE,$6,$7)
`, branch.ID, branch.UserID, branch.BotID, branch.Title, meta, branch.CreatedAt, branch.UpdatedAt); err != nil {
		return Conversation{}, fmt.Errorf("branch conversation: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
SELECT id FROM messages
WHERE conversation_id = $1 AND created_at <= $2
ORDER BY created_at
`, conversationID, target.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("branch select messages: %w", err)
	}
	var msgIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Conversation{}, fmt.Errorf("branch scan message: %w", err)
		}
		msgIDs = append(msgIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Conversation{}, err
	}

	for _, oldID := range msgIDs {
		newID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, role, query, answer, files, prompt_tokens, output_tokens,
                      metadata, prompt_messages, is_stopped, agent_based, created_at)
SELECT $1, $2, role, query, answer, files, prompt_tokens, output_tokens,
       metadata, prompt_messages, is_stopped, agent_based, created_at
FROM messages WHERE id = $3
`, newID, branch.ID, oldID); err != nil {
			return Conversation{}, fmt.Errorf("branch copy message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO agent_thoughts (id, message_id, position, thought, tool, tool_input, observation,
                            status, latency_ms, prompt_tokens, output_tokens, metadata, created_at)
SELECT uuid_generate_v4(), $1, position, thought, tool, tool_input, observation,
       status, latency_ms, prompt_tokens, output_tokens, metadata, created_at
FROM agent_thoughts WHERE message_id = $2
`, newID, oldID); err != nil {
			return Conversation{}, fmt.Errorf("branch copy thoughts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO retriever_resources (id, message_id, collection_name, document_name, document_path,
                                 content, score, start_index, created_at)
SELECT uuid_generate_v4(), $1, collection_name, document_name, document_path,
       content, score, start_index, created_at
FROM retriever_resources WHERE message_id = $2
`, newID, oldID); err != nil {
			return Conversation{}, fmt.Errorf("branch copy resources: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("commit branch: %w", err)
	}
	return branch, nil
}
