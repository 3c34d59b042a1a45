package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MCP transport kinds.
const (
	MCPTypeStdio = "stdio"
	MCPTypeSSE   = "sse"
)

// MCPServer is a configured external tool server. Env and Headers values are
// string-typed on the wire; numeric and boolean values serialize as strings.
type MCPServer struct {
	ID          string
	WorkspaceID string
	Name        string
	Type        string
	Command     string
	Args        []string
	Env         map[string]string
	URL         string
	Headers     map[string]string
	Enabled     bool
	CreatedAt   time.Time
}

func (MCPServer) StoreEntity() {}

func (s *Store) CreateMCPServer(ctx context.Context, m MCPServer) (MCPServer, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now()
	args, _ := json.Marshal(m.Args)
	env, _ := json.Marshal(m.Env)
	headers, _ := json.Marshal(m.Headers)
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO mcp_servers (id, workspace_id, name, type, command, args, env, url, headers, enabled, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, m.ID, m.WorkspaceID, m.Name, m.Type, m.Command, args, env, m.URL, headers, m.Enabled, m.CreatedAt)
	if err != nil {
		return MCPServer{}, fmt.Errorf("create mcp server: %w", err)
	}
	return m, nil
}

func scanMCPServer(scan func(dest ...interface{}) error) (MCPServer, error) {
	var m MCPServer
	var args, env, headers []byte
	err := scan(&m.ID, &m.WorkspaceID, &m.Name, &m.Type, &m.Command, &args, &env, &m.URL,
		&headers, &m.Enabled, &m.CreatedAt)
	if err != nil {
		return MCPServer{}, err
	}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &m.Args)
	}
	if len(env) > 0 {
		_ = json.Unmarshal(env, &m.Env)
	}
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &m.Headers)
	}
	return m, nil
}

const mcpColumns = `id, workspace_id, name, type, command, args, env, url, headers, enabled, created_at`

func (s *Store) GetMCPServer(ctx context.Context, id string) (MCPServer, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+mcpColumns+` FROM mcp_servers WHERE id = $1`, id)
	m, err := scanMCPServer(row.Scan)
	if err == sql.ErrNoRows {
		return MCPServer{}, false, nil
	}
	if err != nil {
		return MCPServer{}, false, fmt.Errorf("get mcp server: %w", err)
	}
	return m, true, nil
}

func (s *Store) ListMCPServers(ctx context.Context, workspaceID string, enabledOnly bool) ([]MCPServer, error) {
	q := `SELECT ` + mcpColumns + ` FROM mcp_servers WHERE workspace_id = $1`
	if enabledOnly {
		q += ` AND enabled = TRUE`
	}
	q += ` ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()
	var out []MCPServer
	for rows.Next() {
		m, err := scanMCPServer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMCPServer(ctx context.Context, m MCPServer) error {
	args, _ := json.Marshal(m.Args)
	env, _ := json.Marshal(m.Env)
	headers, _ := json.Marshal(m.Headers)
	_, err := s.DB.ExecContext(ctx, `
UPDATE mcp_servers SET name = $2, type = $3, command = $4, args = $5, env = $6, url = $7,
  headers = $8, enabled = $9
WHERE id = $1
`, m.ID, m.Name, m.Type, m.Command, args, env, m.URL, headers, m.Enabled)
	if err != nil {
		return fmt.Errorf("update mcp server: %w", err)
	}
	return nil
}

func (s *Store) DeleteMCPServer(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mcp server: %w", err)
	}
	return nil
}
