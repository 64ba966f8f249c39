// Package ollama implements llm.Generator against Ollama's streaming chat API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/llm"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "llama3.2"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"

	summaryPreamble = "Summary of the earlier conversation:\n"
)

// GeneratorConfig holds configuration for the Ollama generator.
type GeneratorConfig struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL.
	BaseURL string

	// Model is the chat model. Defaults to DefaultModel.
	Model string

	// KeepAlive is passed through to Ollama, e.g. "5m".
	KeepAlive string

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

// Generator streams chat completions from Ollama.
type Generator struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// NewGenerator creates a Generator. Streaming responses have no overall
// client timeout; cancellation is carried by the request context.
func NewGenerator(cfg GeneratorConfig) *Generator {
	g := &Generator{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		keepAlive:  cfg.KeepAlive,
		httpClient: cfg.HTTPClient,
	}
	if g.baseURL == "" {
		g.baseURL = DefaultBaseURL
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{}
	}
	return g
}

// Generate starts a streamed chat completion.
func (g *Generator) Generate(ctx context.Context, pc *llm.PromptContext) (<-chan llm.Chunk, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model:     g.model,
		Messages:  buildMessages(pc),
		Stream:    true,
		KeepAlive: g.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, chat.Unavailable("ollama", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, chat.Unavailable("ollama", err)
		}
		return nil, fmt.Errorf("ollama: %w", err)
	}

	out := make(chan llm.Chunk)
	go g.stream(ctx, resp.Body, out)
	return out, nil
}

func (g *Generator) stream(ctx context.Context, body io.ReadCloser, out chan<- llm.Chunk) {
	defer close(out)
	defer body.Close()

	send := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var r chatResponse
		if err := json.Unmarshal(line, &r); err != nil {
			send(llm.Chunk{Err: fmt.Errorf("decoding chat chunk: %w", err)})
			return
		}
		if r.Error != "" {
			send(llm.Chunk{Err: chat.Unavailable("ollama", errors.New(r.Error))})
			return
		}
		if r.Message.Content != "" && !send(llm.Chunk{Text: r.Message.Content}) {
			return
		}
		if r.Done {
			send(llm.Chunk{Done: true})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		send(llm.Chunk{Err: chat.Unavailable("ollama", err)})
		return
	}

	send(llm.Chunk{Err: chat.Unavailable("ollama", io.ErrUnexpectedEOF)})
}

// Close releases resources held by the generator.
func (g *Generator) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

func buildMessages(pc *llm.PromptContext) []chatMessage {
	msgs := make([]chatMessage, 0, len(pc.Messages)+2)
	if pc.Summary != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: summaryPreamble + pc.Summary})
	}
	for _, m := range pc.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Text})
	}

	prompt := chatMessage{Role: string(chat.RoleUser), Content: pc.Prompt}
	for _, a := range pc.Attachments {
		if a.Kind == chat.KindInline && strings.HasPrefix(a.ContentType, "image/") {
			prompt.Images = append(prompt.Images, base64.StdEncoding.EncodeToString(a.Payload))
		}
	}
	return append(msgs, prompt)
}

var _ llm.Generator = (*Generator)(nil)
