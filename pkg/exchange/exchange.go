// Package exchange runs one conversational request end to end: it takes the
// conversation lock, selects a bounded context, answers from the response
// cache or the generator, appends the resulting turns and releases the lock
// on every exit path.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/keepsake/pkg/cache"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/contextwindow"
	"github.com/papercomputeco/keepsake/pkg/guard"
	"github.com/papercomputeco/keepsake/pkg/llm"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
)

// Config configures an Exchange.
type Config struct {
	Guard        guard.Guard
	Orchestrator *orchestrator.Orchestrator
	Generator    llm.Generator

	// Cache is optional. Without one every request is generated.
	Cache *cache.Cache

	// Selector defaults to a contextwindow.Selector with default limits.
	Selector *contextwindow.Selector

	Now    func() time.Time
	Logger *slog.Logger
}

// Request is one user message.
type Request struct {
	Key    chat.Key
	Prompt string

	// Attachments sent by the user. Inline payloads are uploaded in the
	// background like generated media.
	Attachments []chat.AttachmentRef

	// OnChunk receives the answer as it streams, from the generator or
	// replayed from the cache. It is called from the goroutine running Run.
	OnChunk func(llm.Chunk)
}

// Response is a completed exchange.
type Response struct {
	User      *chat.Turn
	Assistant *chat.Turn

	// Cached is set when the answer was replayed from the cache.
	Cached bool

	// Summarized is the number of turns folded into the context summary.
	Summarized int

	// Partial holds the text streamed before an abort. It is never
	// recorded as a turn.
	Partial string
}

// Exchange is safe for concurrent use. Requests on different conversations
// never block each other.
type Exchange struct {
	guard        guard.Guard
	orchestrator *orchestrator.Orchestrator
	generator    llm.Generator
	cache        *cache.Cache
	selector     *contextwindow.Selector
	now          func() time.Time
	logger       *slog.Logger
}

// New creates an Exchange.
func New(c Config) (*Exchange, error) {
	if c.Guard == nil {
		return nil, errors.New("exchange requires a guard")
	}
	if c.Orchestrator == nil {
		return nil, errors.New("exchange requires an orchestrator")
	}
	if c.Generator == nil {
		return nil, errors.New("exchange requires a generator")
	}
	if c.Selector == nil {
		c.Selector = contextwindow.New(contextwindow.Config{})
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	return &Exchange{
		guard:        c.Guard,
		orchestrator: c.Orchestrator,
		generator:    c.Generator,
		cache:        c.Cache,
		selector:     c.Selector,
		now:          c.Now,
		logger:       c.Logger,
	}, nil
}

// Run performs the exchange. A conversation already in use returns
// chat.ErrLockConflict without side effects. Cancelling ctx stops the
// answer stream immediately and returns chat.ErrAborted; neither turn is
// recorded.
func (e *Exchange) Run(ctx context.Context, req Request) (*Response, error) {
	if !req.Key.Valid() {
		return nil, errors.New("exchange requires a user and chat id")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, llm.ErrEmptyPrompt
	}
	for _, a := range req.Attachments {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("invalid attachment: %w", err)
		}
	}

	var resp *Response
	err := guard.Do(ctx, e.guard, guard.KeyFor(req.Key), func(ctx context.Context, lock guard.Lock) error {
		stop := e.keepAlive(ctx, lock)
		defer stop()

		var err error
		resp, err = e.run(ctx, req)
		return err
	})
	if errors.Is(err, chat.ErrLockConflict) {
		e.logger.Debug("conversation busy", "chat_id", req.Key.ChatID, "user_id", req.Key.UserID)
	}
	return resp, err
}

func (e *Exchange) run(ctx context.Context, req Request) (*Response, error) {
	conv, err := e.orchestrator.Load(ctx, req.Key)
	if err != nil {
		return nil, err
	}

	user := &chat.Turn{
		ID:          uuid.NewString(),
		UserID:      req.Key.UserID,
		ChatID:      req.Key.ChatID,
		Role:        chat.RoleUser,
		Text:        req.Prompt,
		Attachments: req.Attachments,
		CreatedAt:   e.now().UTC(),
	}

	window := e.selector.Select(append(conv.Turns, user))
	pc := window.PromptContext(req.Prompt, req.Attachments)
	pc.Messages = pc.Messages[:len(pc.Messages)-1]

	key := cache.NewKey(req.Prompt, historyParts(window)...)
	resp := &Response{Summarized: window.Summarized}

	chunks, cancel, err := e.answer(ctx, key, pc, resp)
	if err != nil {
		return nil, err
	}
	defer cancel()

	res, err := e.consume(ctx, chunks, req.OnChunk)
	if err != nil {
		if ctx.Err() != nil {
			resp.Partial = res.Text
			e.logger.Info("exchange aborted",
				"chat_id", req.Key.ChatID,
				"partial_chars", len(res.Text),
			)
			return resp, fmt.Errorf("%w: %w", chat.ErrAborted, ctx.Err())
		}
		return nil, err
	}

	if !resp.Cached && e.cache != nil && len(res.Media) == 0 && res.Text != "" {
		if _, err := e.cache.Store(key, res.Text, cache.Classify(req.Prompt, res.Text)); err != nil {
			e.logger.Warn("could not cache answer", "chat_id", req.Key.ChatID, "error", err)
		}
	}

	// The exchange is complete; appends must not be cut short by a caller
	// that goes away now.
	appendCtx := context.WithoutCancel(ctx)

	resp.User, err = e.orchestrator.Append(appendCtx, user)
	if err != nil {
		return nil, fmt.Errorf("appending user turn: %w", err)
	}

	assistant := &chat.Turn{
		UserID:    req.Key.UserID,
		ChatID:    req.Key.ChatID,
		Role:      chat.RoleAssistant,
		Text:      res.Text,
		CreatedAt: e.now().UTC(),
	}
	for _, m := range res.Media {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		assistant.Attachments = append(assistant.Attachments, chat.Inline(id, m.ContentType, m.Data))
	}

	resp.Assistant, err = e.orchestrator.Append(appendCtx, assistant)
	if err != nil {
		return nil, fmt.Errorf("appending assistant turn: %w", err)
	}

	e.logger.Debug("exchange complete",
		"chat_id", req.Key.ChatID,
		"user_id", req.Key.UserID,
		"cached", resp.Cached,
		"media", len(res.Media),
	)
	return resp, nil
}

// answer opens the answer stream: a cache replay on hit, a generation
// otherwise. The returned cancel stops whichever producer is running.
func (e *Exchange) answer(ctx context.Context, key cache.Key, pc *llm.PromptContext, resp *Response) (<-chan llm.Chunk, context.CancelFunc, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	if e.cache != nil {
		if entry, ok := e.cache.Lookup(key); ok {
			resp.Cached = true
			return entry.Replay(streamCtx), cancel, nil
		}
	}

	chunks, err := e.generator.Generate(streamCtx, pc)
	if err != nil {
		cancel()
		if errors.Is(err, chat.ErrUpstreamUnavailable) {
			return nil, nil, err
		}
		return nil, nil, chat.Unavailable("generation", err)
	}
	return chunks, cancel, nil
}

// consume forwards chunks to sink until the stream completes. On error the
// partial result streamed so far is still returned.
func (e *Exchange) consume(ctx context.Context, chunks <-chan llm.Chunk, sink func(llm.Chunk)) (*llm.Result, error) {
	var (
		sb  strings.Builder
		res = &llm.Result{}
	)

	for {
		select {
		case <-ctx.Done():
			res.Text = sb.String()
			return res, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				res.Text = sb.String()
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				return res, nil
			}
			if c.Err != nil {
				res.Text = sb.String()
				if errors.Is(c.Err, chat.ErrUpstreamUnavailable) {
					return res, c.Err
				}
				return res, chat.Unavailable("generation", c.Err)
			}
			if ctx.Err() != nil {
				res.Text = sb.String()
				return res, ctx.Err()
			}

			sb.WriteString(c.Text)
			if c.Media != nil {
				res.Media = append(res.Media, *c.Media)
			}
			if sink != nil && (c.Text != "" || c.Media != nil || c.Done) {
				sink(c)
			}
			if c.Done {
				res.Text = sb.String()
				return res, nil
			}
		}
	}
}

// keepAlive refreshes the lease at half its TTL until stop is called, so a
// long generation is not mistaken for a crashed holder.
func (e *Exchange) keepAlive(ctx context.Context, lock guard.Lock) (stop func()) {
	if lock.TTL <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(lock.TTL / 2)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshed, err := e.guard.Refresh(ctx, lock)
				if err != nil {
					e.logger.Warn("could not refresh conversation lock", "key", lock.Key, "error", err)
					return
				}
				lock = refreshed
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// historyParts fingerprints the window without the pending user turn, so
// the cache key is the prompt plus the context it was asked in.
func historyParts(w *contextwindow.Window) []string {
	parts := w.Parts()
	return parts[:len(parts)-1]
}
