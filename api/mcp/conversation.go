package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

var (
	listToolName    = "conversation_list"
	listDescription = "List a user's keepsake conversations, most recently active first, with their status and persistence state."

	loadToolName    = "conversation_load"
	loadDescription = "Load the full history of one keepsake conversation, merged from the local buffer, the document store and the vector store."
)

// ListInput represents the input arguments for the conversation_list tool.
type ListInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose conversations to list"`
}

// Session summarizes one conversation.
type Session struct {
	ChatID             string      `json:"chat_id"`
	Title              string      `json:"title,omitempty"`
	Status             chat.Status `json:"status"`
	TurnCount          int         `json:"turn_count"`
	PendingPersistence bool        `json:"pending_persistence"`
	FailedJobs         int         `json:"failed_jobs,omitempty"`
	LastActivity       string      `json:"last_activity"`
}

// ListOutput represents the output of the conversation_list tool.
type ListOutput struct {
	Sessions []Session `json:"sessions"`
	Count    int       `json:"count"`
}

// LoadInput represents the input arguments for the conversation_load tool.
type LoadInput struct {
	UserID string `json:"user_id" jsonschema:"the user owning the conversation"`
	ChatID string `json:"chat_id" jsonschema:"the conversation to load"`
}

// Turn represents a single turn in a conversation.
type Turn struct {
	ID          string          `json:"id"`
	Role        chat.Role       `json:"role"`
	Text        string          `json:"text"`
	Attachments int             `json:"attachments,omitempty"`
	Durability  chat.Durability `json:"durability"`
	CreatedAt   string          `json:"created_at"`
}

// LoadOutput represents the output of the conversation_load tool.
type LoadOutput struct {
	Title     string      `json:"title,omitempty"`
	Status    chat.Status `json:"status,omitempty"`
	Turns     []Turn      `json:"turns"`
	Recovered int         `json:"recovered"`
}

func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, ListOutput, error) {
	if input.UserID == "" {
		return toolError("user_id is required"), ListOutput{}, nil
	}

	sessions, err := s.config.Orchestrator.Sessions(ctx, input.UserID)
	if err != nil {
		s.config.Logger.Error("failed to list sessions", "user_id", input.UserID, "error", err)
		return toolError(fmt.Sprintf("Failed to list conversations: %v", err)), ListOutput{}, nil
	}
	out := ListOutput{Sessions: make([]Session, len(sessions)), Count: len(sessions)}
	for i, cs := range sessions {
		out.Sessions[i] = Session{
			ChatID:             cs.ChatID,
			Title:              cs.Title,
			Status:             cs.Status,
			TurnCount:          cs.TurnCount,
			PendingPersistence: cs.PendingPersistence,
			FailedJobs:         len(cs.FailedJobs),
			LastActivity:       cs.LastActivity.Format(time.RFC3339),
		}
	}

	return jsonResult(out)
}

func (s *Server) handleLoad(ctx context.Context, _ *mcp.CallToolRequest, input LoadInput) (*mcp.CallToolResult, LoadOutput, error) {
	key := chat.Key{UserID: input.UserID, ChatID: input.ChatID}
	if !key.Valid() {
		return toolError("user_id and chat_id are required"), LoadOutput{}, nil
	}

	conv, err := s.config.Orchestrator.Load(ctx, key)
	if err != nil {
		s.config.Logger.Error("failed to load conversation", "chat_id", key.ChatID, "error", err)
		return toolError(fmt.Sprintf("Failed to load conversation: %v", err)), LoadOutput{}, nil
	}

	out := LoadOutput{
		Turns:     make([]Turn, len(conv.Turns)),
		Recovered: conv.Recovered,
	}
	if conv.Session != nil {
		out.Title = conv.Session.Title
		out.Status = conv.Session.Status
	}
	for i, t := range conv.Turns {
		out.Turns[i] = Turn{
			ID:          t.ID,
			Role:        t.Role,
			Text:        t.Text,
			Attachments: len(t.Attachments),
			Durability:  t.Durability,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		}
	}

	return jsonResult(out)
}

// jsonResult returns output as both structured content and JSON text.
func jsonResult[T any](output T) (*mcp.CallToolResult, T, error) {
	var zero T
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), zero, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
