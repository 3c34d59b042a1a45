package server

import (
	"time"

	"github.com/surveyor-ai/surveyor/internal/store"
)

// Wire DTOs. Store rows stay inside the persistence layer; handlers render
// these instead.

type messageDTO struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Role           string                 `json:"role"`
	Query          string                 `json:"query"`
	Answer         string                 `json:"answer"`
	Files          []store.FileRef        `json:"files,omitempty"`
	PromptTokens   int                    `json:"prompt_tokens"`
	OutputTokens   int                    `json:"output_tokens"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	PromptMessages []store.PromptMessage  `json:"prompt_messages,omitempty"`
	IsStopped      bool                   `json:"is_stopped"`
	AgentBased     bool                   `json:"agent_based"`
	CreatedAt      time.Time              `json:"created_at"`
}

func renderMessage(m store.Message) messageDTO {
	return messageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Query:          m.Query,
		Answer:         m.Answer,
		Files:          m.Files,
		PromptTokens:   m.PromptTokens,
		OutputTokens:   m.OutputTokens,
		Metadata:       m.Metadata,
		PromptMessages: m.PromptMessages,
		IsStopped:      m.IsStopped,
		AgentBased:     m.AgentBased,
		CreatedAt:      m.CreatedAt,
	}
}

func renderMessages(msgs []store.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, renderMessage(m))
	}
	return out
}

type thoughtDTO struct {
	ID           string                 `json:"id"`
	Position     int                    `json:"position"`
	Thought      string                 `json:"thought,omitempty"`
	Tool         string                 `json:"tool,omitempty"`
	ToolInput    string                 `json:"tool_input,omitempty"`
	Observation  string                 `json:"observation,omitempty"`
	Status       string                 `json:"status"`
	LatencyMs    int64                  `json:"latency_ms"`
	PromptTokens int                    `json:"prompt_tokens"`
	OutputTokens int                    `json:"output_tokens"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func renderThoughts(ts []store.AgentThought) []thoughtDTO {
	out := make([]thoughtDTO, 0, len(ts))
	for _, t := range ts {
		out = append(out, thoughtDTO{
			ID:           t.ID,
			Position:     t.Position,
			Thought:      t.Thought,
			Tool:         t.Tool,
			ToolInput:    t.ToolInput,
			Observation:  t.Observation,
			Status:       t.Status,
			LatencyMs:    t.LatencyMs,
			PromptTokens: t.PromptTokens,
			OutputTokens: t.OutputTokens,
			Metadata:     t.Metadata,
		})
	}
	return out
}

type resourceDTO struct {
	Position       int     `json:"position"`
	CollectionName string  `json:"collection_name,omitempty"`
	DocumentName   string  `json:"document_name"`
	DocumentPath   string  `json:"document_path,omitempty"`
	Content        string  `json:"content"`
	Score          float64 `json:"score"`
	StartIndex     int     `json:"start_index"`
}

func renderResources(rs []store.RetrieverResource) []resourceDTO {
	out := make([]resourceDTO, 0, len(rs))
	for i, r := range rs {
		out = append(out, resourceDTO{
			Position:       i + 1,
			CollectionName: r.CollectionName,
			DocumentName:   r.DocumentName,
			DocumentPath:   r.DocumentPath,
			Content:        r.Content,
			Score:          r.Score,
			StartIndex:     r.StartIndex,
		})
	}
	return out
}

type conversationDTO struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func renderConversation(c store.Conversation) conversationDTO {
	return conversationDTO{
		ID:        c.ID,
		BotID:     c.BotID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type botDTO struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func renderBot(b store.Bot) botDTO {
	return botDTO{
		ID:           b.ID,
		WorkspaceID:  b.WorkspaceID,
		Name:         b.Name,
		Category:     b.Category,
		Description:  b.Description,
		SystemPrompt: b.SystemPrompt,
		CreatedAt:    b.CreatedAt,
	}
}

type collectionDTO struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	Name           string    `json:"name"`
	EmbeddingModel string    `json:"embedding_model"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	TopK           int       `json:"top_k"`
	ScoreThreshold float64   `json:"score_threshold"`
	Folder         string    `json:"folder,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func renderCollection(col store.Collection) collectionDTO {
	return collectionDTO{
		ID:             col.ID,
		WorkspaceID:    col.WorkspaceID,
		Name:           col.Name,
		EmbeddingModel: col.EmbeddingModel,
		ChunkSize:      col.ChunkSize,
		ChunkOverlap:   col.ChunkOverlap,
		TopK:           col.TopK,
		ScoreThreshold: col.ScoreThreshold,
		Folder:         col.Folder,
		Status:         col.Status,
		CreatedAt:      col.CreatedAt,
	}
}

type partitionDTO struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Type         string    `json:"type,omitempty"`
	Progress     float64   `json:"progress"`
	Status       string    `json:"status"`
	ErrorMsg     string    `json:"error_msg,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func renderPartition(p store.Partition) partitionDTO {
	return partitionDTO{
		ID:           p.ID,
		CollectionID: p.CollectionID,
		Name:         p.Name,
		URL:          p.URL,
		Type:         p.Type,
		Progress:     p.Progress,
		Status:       p.Status,
		ErrorMsg:     p.ErrorMsg,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type mcpServerDTO struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Enabled     bool              `json:"enabled"`
}

func renderMCPServer(m store.MCPServer) mcpServerDTO {
	return mcpServerDTO{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		Name:        m.Name,
		Type:        m.Type,
		Command:     m.Command,
		Args:        m.Args,
		Env:         m.Env,
		URL:         m.URL,
		Headers:     m.Headers,
		Enabled:     m.Enabled,
	}
}
