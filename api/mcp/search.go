package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/utils"
)

const (
	defaultTopK = 5
	previewLen  = 200
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search a user's past conversation turns across all chats using semantic search. Returns the closest turns with a preview of each."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose memory to search"`
	Query  string `json:"query" jsonschema:"the search query text"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
}

// SearchResult represents a single recalled turn.
type SearchResult struct {
	TurnID  string    `json:"turn_id"`
	ChatID  string    `json:"chat_id"`
	Role    chat.Role `json:"role"`
	Score   float32   `json:"score"`
	Preview string    `json:"preview"`
}

// SearchOutput represents the output of the memory_search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	if input.UserID == "" || input.Query == "" {
		return toolError("user_id and query are required"), SearchOutput{}, nil
	}

	topK := input.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	logger.Debug("MCP memory search request",
		"user_id", input.UserID,
		"query", input.Query,
		"top_k", topK,
	)

	memories, err := s.config.Orchestrator.Recall(ctx, input.UserID, input.Query, topK)
	if err != nil {
		logger.Error("failed to recall memories", "error", err)
		return toolError(fmt.Sprintf("Failed to search memory: %v", err)), SearchOutput{}, nil
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: make([]SearchResult, 0, len(memories)),
		Count:   len(memories),
	}
	for _, m := range memories {
		output.Results = append(output.Results, buildSearchResult(m))
	}

	return jsonResult(output)
}

func buildSearchResult(m orchestrator.Memory) SearchResult {
	return SearchResult{
		TurnID:  m.Turn.ID,
		ChatID:  m.Turn.ChatID,
		Role:    m.Turn.Role,
		Score:   m.Score,
		Preview: utils.Truncate(m.Turn.Text, previewLen),
	}
}
