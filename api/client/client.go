// Package client is a Go client for the keepsake HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/papercomputeco/keepsake/api"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/sse"
	"github.com/papercomputeco/keepsake/pkg/utils"
)

// Client calls a keepsake API server.
type Client struct {
	baseURL string
	http    *http.Client

	// Trace receives the raw event stream of every streamed message.
	Trace io.Writer
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		Trace:   io.Discard,
	}
}

// Error is a failed API call. It matches the chat sentinel errors for the
// statuses the API maps them to.
type Error struct {
	Status  int
	Message string
	Partial string
}

func (e *Error) Error() string {
	return fmt.Sprintf("keepsake api: %d: %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch e.Status {
	case http.StatusConflict:
		return target == chat.ErrLockConflict
	case http.StatusNotFound:
		return target == chat.ErrNotFound
	case http.StatusServiceUnavailable:
		return target == chat.ErrUpstreamUnavailable
	case api.StatusClientClosedRequest:
		return target == chat.ErrAborted
	}
	return false
}

// Sessions lists a user's conversations.
func (c *Client) Sessions(ctx context.Context, userID string) (*api.SessionsResponse, error) {
	var out api.SessionsResponse
	err := c.do(ctx, http.MethodGet, "/sessions?"+url.Values{"user_id": {userID}}.Encode(), nil, &out)
	return &out, err
}

// Load returns a conversation.
func (c *Client) Load(ctx context.Context, key chat.Key) (*orchestrator.Conversation, error) {
	var out orchestrator.Conversation
	err := c.do(ctx, http.MethodGet, sessionPath(key, ""), nil, &out)
	return &out, err
}

// Jobs lists a conversation's persistence jobs.
func (c *Client) Jobs(ctx context.Context, key chat.Key) (*api.JobsResponse, error) {
	var out api.JobsResponse
	err := c.do(ctx, http.MethodGet, sessionPath(key, "jobs"), nil, &out)
	return &out, err
}

// Save schedules a batch write of the conversation.
func (c *Client) Save(ctx context.Context, key chat.Key) error {
	return c.do(ctx, http.MethodPost, sessionPath(key, "save"), nil, nil)
}

// End ends and saves the conversation.
func (c *Client) End(ctx context.Context, key chat.Key) error {
	return c.do(ctx, http.MethodPost, sessionPath(key, "end"), nil, nil)
}

// Retry re-queues failed persistence jobs and returns how many were.
func (c *Client) Retry(ctx context.Context, key chat.Key) (int, error) {
	var out struct {
		Retried int `json:"retried"`
	}
	err := c.do(ctx, http.MethodPost, sessionPath(key, "retry"), nil, &out)
	return out.Retried, err
}

// Delete removes the conversation from every tier.
func (c *Client) Delete(ctx context.Context, key chat.Key) error {
	return c.do(ctx, http.MethodDelete, sessionPath(key, ""), nil, nil)
}

// Recall searches a user's past turns.
func (c *Client) Recall(ctx context.Context, userID, query string, k int) (*api.RecallResponse, error) {
	q := url.Values{"user_id": {userID}, "q": {query}, "k": {strconv.Itoa(k)}}
	var out api.RecallResponse
	err := c.do(ctx, http.MethodGet, "/recall?"+q.Encode(), nil, &out)
	return &out, err
}

// Send posts a message and streams the answer to onText as it arrives.
// Cancelling ctx aborts the exchange on the server.
func (c *Client) Send(ctx context.Context, key chat.Key, req api.MessageRequest, onText func(string)) (*api.MessageResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath(key, "messages"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", utils.UserAgent())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	r := sse.NewTeeReader(resp.Body, c.Trace)
	for {
		ev, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("reading answer stream: %w", err)
		}
		if ev == nil {
			return nil, errors.New("answer stream ended without a result")
		}

		switch ev.Type {
		case api.EventChunk:
			var chunk api.ChunkEvent
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				return nil, fmt.Errorf("decoding chunk: %w", err)
			}
			if onText != nil {
				onText(chunk.Text)
			}
		case api.EventDone:
			var out api.MessageResponse
			if err := json.Unmarshal([]byte(ev.Data), &out); err != nil {
				return nil, fmt.Errorf("decoding result: %w", err)
			}
			return &out, nil
		case api.EventError:
			var e api.StreamError
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				return nil, fmt.Errorf("decoding error: %w", err)
			}
			return nil, &Error{Status: e.Status, Message: e.Error, Partial: e.Partial}
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", utils.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		e.Message = body.Error
		e.Partial = body.Partial
	} else {
		e.Message = strings.TrimSpace(string(data))
	}
	return e
}

func sessionPath(key chat.Key, action string) string {
	p := "/sessions/" + url.PathEscape(key.UserID) + "/" + url.PathEscape(key.ChatID)
	if action != "" {
		p += "/" + action
	}
	return p
}
