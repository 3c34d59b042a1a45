package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GraphCheckpoint is the durable graph state for one conversation thread,
// written after every node transition. Resume after an interrupt loads it.
type GraphCheckpoint struct {
	ConversationID string
	Node           string
	State          json.RawMessage
	UpdatedAt      time.Time
}

func (GraphCheckpoint) StoreEntity() {}

func (s *Store) SaveGraphCheckpoint(ctx context.Context, conversationID, node string, state json.RawMessage) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO graph_checkpoints (conversation_id, node, state, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (conversation_id) DO UPDATE SET
  node       = EXCLUDED.node,
  state      = EXCLUDED.state,
  updated_at = NOW()
`, conversationID, node, []byte(state))
	if err != nil {
		return fmt.Errorf("save graph checkpoint: %w", err)
	}
	return nil
}

func (s *Store) GetGraphCheckpoint(ctx context.Context, conversationID string) (GraphCheckpoint, bool, error) {
	var cp GraphCheckpoint
	var state []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT conversation_id, node, state, updated_at FROM graph_checkpoints WHERE conversation_id = $1
`, conversationID).Scan(&cp.ConversationID, &cp.Node, &state, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return GraphCheckpoint{}, false, nil
	}
	if err != nil {
		return GraphCheckpoint{}, false, fmt.Errorf("get graph checkpoint: %w", err)
	}
	cp.State = state
	return cp, true, nil
}

func (s *Store) DeleteGraphCheckpoint(ctx context.Context, conversationID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM graph_checkpoints WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("delete graph checkpoint: %w", err)
	}
	return nil
}
