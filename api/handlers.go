package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/queue"
)

const defaultRecallK = 5

// SessionsResponse lists a user's conversations.
type SessionsResponse struct {
	Count    int             `json:"count"`
	Sessions []*chat.Session `json:"sessions"`
}

// JobsResponse lists a conversation's persistence jobs.
type JobsResponse struct {
	Count int            `json:"count"`
	Jobs  []queue.Status `json:"jobs"`
}

// RecallResponse holds turns recalled by similarity.
type RecallResponse struct {
	Query    string                `json:"query"`
	Count    int                   `json:"count"`
	Memories []orchestrator.Memory `json:"memories"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter required")
	}

	sessions, err := s.config.Orchestrator.Sessions(c.UserContext(), userID)
	if err != nil {
		return s.fail(c, err)
	}
	if sessions == nil {
		sessions = []*chat.Session{}
	}

	return c.JSON(SessionsResponse{Count: len(sessions), Sessions: sessions})
}

// handleLoad returns the merged conversation. Unknown conversations are
// returned empty.
func (s *Server) handleLoad(c *fiber.Ctx) error {
	conv, err := s.config.Orchestrator.Load(c.UserContext(), keyFrom(c))
	if err != nil {
		return s.fail(c, err)
	}
	if conv.Turns == nil {
		conv.Turns = []*chat.Turn{}
	}
	return c.JSON(conv)
}

func (s *Server) handleSave(c *fiber.Ctx) error {
	if err := s.config.Orchestrator.Save(c.UserContext(), keyFrom(c)); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "saving"})
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	if err := s.config.Orchestrator.End(c.UserContext(), keyFrom(c)); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "ended"})
}

func (s *Server) handleRetry(c *fiber.Ctx) error {
	n, err := s.config.Orchestrator.Retry(c.UserContext(), keyFrom(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"retried": n})
}

func (s *Server) handleJobs(c *fiber.Ctx) error {
	jobs := s.config.Orchestrator.Jobs(keyFrom(c))
	if jobs == nil {
		jobs = []queue.Status{}
	}
	return c.JSON(JobsResponse{Count: len(jobs), Jobs: jobs})
}

// handleDelete removes the conversation from every tier and drops its
// attachments from the local cache.
func (s *Server) handleDelete(c *fiber.Ctx) error {
	ctx := c.UserContext()
	key := keyFrom(c)

	if s.config.Resolver != nil {
		if conv, err := s.config.Orchestrator.Load(ctx, key); err == nil {
			for _, t := range conv.Turns {
				for _, ref := range t.Attachments {
					s.config.Resolver.Forget(key.UserID, ref)
				}
			}
		}
	}

	if err := s.config.Orchestrator.DeleteChat(ctx, key); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleRecall(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	query := c.Query("q")
	if userID == "" || query == "" {
		return badRequest(c, "user_id and q query parameters required")
	}
	k := c.QueryInt("k", defaultRecallK)
	if k <= 0 {
		k = defaultRecallK
	}

	memories, err := s.config.Orchestrator.Recall(c.UserContext(), userID, query, k)
	if err != nil {
		return s.fail(c, err)
	}
	if memories == nil {
		memories = []orchestrator.Memory{}
	}

	return c.JSON(RecallResponse{Query: query, Count: len(memories), Memories: memories})
}

func keyFrom(c *fiber.Ctx) chat.Key {
	return chat.Key{UserID: c.Params("user"), ChatID: c.Params("chat")}
}
