package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/exchange"
	"github.com/papercomputeco/keepsake/pkg/llm"
	"github.com/papercomputeco/keepsake/pkg/sse"
)

// Stream event types.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// MessageRequest is one user message.
type MessageRequest struct {
	Prompt      string            `json:"prompt"`
	Attachments []AttachmentInput `json:"attachments,omitempty"`
}

// AttachmentInput carries either inline data (base64 in JSON) or the URL
// of an already stored object.
type AttachmentInput struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

// MessageResponse is a completed exchange.
type MessageResponse struct {
	User       *chat.Turn `json:"user"`
	Assistant  *chat.Turn `json:"assistant"`
	Cached     bool       `json:"cached"`
	Summarized int        `json:"summarized"`
}

// ChunkEvent is the payload of a chunk event.
type ChunkEvent struct {
	Text string `json:"text"`
}

// StreamError is the payload of an error event. Status is the HTTP status
// the same failure has on a non-streaming request.
type StreamError struct {
	ErrorResponse
	Status int `json:"status"`
}

// handleMessage runs one exchange. Clients that accept text/event-stream
// receive the answer as chunk events followed by a done or error event;
// everyone else gets the completed exchange as JSON.
func (s *Server) handleMessage(c *fiber.Ctx) error {
	var body MessageRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(body.Prompt) == "" {
		return badRequest(c, llm.ErrEmptyPrompt.Error())
	}

	refs := make([]chat.AttachmentRef, 0, len(body.Attachments))
	for _, a := range body.Attachments {
		ref := attachmentRef(a)
		if err := ref.Validate(); err != nil {
			return badRequest(c, err.Error())
		}
		refs = append(refs, ref)
	}

	req := exchange.Request{
		Key: chat.Key{
			UserID: strings.Clone(c.Params("user")),
			ChatID: strings.Clone(c.Params("chat")),
		},
		Prompt:      body.Prompt,
		Attachments: refs,
	}

	if strings.Contains(c.Get(fiber.HeaderAccept), "text/event-stream") {
		return s.stream(c, req)
	}

	resp, err := s.config.Exchange.Run(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, chat.ErrAborted) && resp != nil {
			return c.Status(StatusClientClosedRequest).JSON(ErrorResponse{Error: err.Error(), Partial: resp.Partial})
		}
		return s.fail(c, err)
	}
	return c.JSON(messageResponse(resp))
}

// stream writes the exchange as server-sent events. A failed write means
// the client went away, which aborts the exchange.
func (s *Server) stream(c *fiber.Ctx, req exchange.Request) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.UserContext()))
	logger := s.logger
	ex := s.config.Exchange

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		send := func(typ string, v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if err := sse.Write(w, sse.Event{Type: typ, Data: string(data)}); err != nil {
				return err
			}
			return w.Flush()
		}

		req.OnChunk = func(ch llm.Chunk) {
			if ch.Text == "" {
				return
			}
			if err := send(EventChunk, ChunkEvent{Text: ch.Text}); err != nil {
				cancel()
			}
		}

		resp, err := ex.Run(ctx, req)
		if err != nil {
			e := StreamError{ErrorResponse: ErrorResponse{Error: err.Error()}, Status: statusFor(err)}
			if resp != nil {
				e.Partial = resp.Partial
			}
			if e.Status >= fiber.StatusInternalServerError {
				logger.Error("streamed exchange failed", "chat_id", req.Key.ChatID, "error", err)
			}
			_ = send(EventError, e)
			return
		}
		if err := send(EventDone, messageResponse(resp)); err != nil {
			logger.Debug("client left before the done event", "chat_id", req.Key.ChatID, "error", err)
		}
	})
	return nil
}

func attachmentRef(a AttachmentInput) chat.AttachmentRef {
	if len(a.Data) > 0 {
		id := a.ID
		if strings.TrimSpace(id) == "" {
			id = chat.ContentIDOf(a.Data)
		}
		return chat.Inline(id, a.ContentType, a.Data)
	}
	id := a.ID
	if id == "" {
		id = chat.ContentIDFromURL(a.URL)
	}
	return chat.Remote(id, a.URL, a.ContentType)
}

func messageResponse(r *exchange.Response) MessageResponse {
	return MessageResponse{
		User:       r.User,
		Assistant:  r.Assistant,
		Cached:     r.Cached,
		Summarized: r.Summarized,
	}
}
