package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/rehydrate"
)

// AttachmentStatus describes an attachment that is not ready to serve.
type AttachmentStatus struct {
	ID          string             `json:"id"`
	State       rehydrate.State    `json:"state"`
	Strategy    rehydrate.Strategy `json:"strategy,omitempty"`
	Placeholder string             `json:"placeholder"`
	Error       string             `json:"error,omitempty"`
}

// handleAttachment serves a cached attachment. A miss starts a background
// fetch and answers 202 with a placeholder; the client polls until the
// payload is served.
func (s *Server) handleAttachment(c *fiber.Ctx) error {
	owner := c.Params("user")
	url := c.Query("url")
	id := c.Query("id")
	contentType := c.Query("content_type")

	var ref chat.AttachmentRef
	switch {
	case url != "":
		ref = chat.Remote(id, url, contentType)
	case id != "":
		ref = chat.AttachmentRef{ID: id, ContentType: contentType}
	default:
		return badRequest(c, "url or id query parameter required")
	}

	res := s.config.Resolver.Resolve(owner, ref)
	if res.State == rehydrate.StateReady {
		ct := res.Blob.ContentType
		if ct == "" {
			ct = fiber.MIMEOctetStream
		}
		c.Set(fiber.HeaderContentType, ct)
		return c.Send(res.Blob.Payload)
	}

	status := AttachmentStatus{
		ID:          res.Placeholder.ID,
		State:       res.State,
		Strategy:    res.Strategy,
		Placeholder: res.Placeholder.String(),
	}
	if res.State == rehydrate.StateLoading {
		return c.Status(fiber.StatusAccepted).JSON(status)
	}

	status.Error = res.Err.Error()
	if errors.Is(res.Err, rehydrate.ErrUnresolvable) {
		return c.Status(fiber.StatusNotFound).JSON(status)
	}
	return c.Status(fiber.StatusBadGateway).JSON(status)
}
