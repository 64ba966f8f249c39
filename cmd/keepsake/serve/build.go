package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/papercomputeco/keepsake/pkg/blob"
	blobutils "github.com/papercomputeco/keepsake/pkg/blob/utils"
	"github.com/papercomputeco/keepsake/pkg/cache"
	"github.com/papercomputeco/keepsake/pkg/config"
	"github.com/papercomputeco/keepsake/pkg/contextwindow"
	"github.com/papercomputeco/keepsake/pkg/dotdir"
	"github.com/papercomputeco/keepsake/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/keepsake/pkg/embeddings/utils"
	"github.com/papercomputeco/keepsake/pkg/eventstream"
	"github.com/papercomputeco/keepsake/pkg/eventstream/kafka"
	"github.com/papercomputeco/keepsake/pkg/eventstream/nop"
	"github.com/papercomputeco/keepsake/pkg/exchange"
	"github.com/papercomputeco/keepsake/pkg/guard"
	"github.com/papercomputeco/keepsake/pkg/guard/inmemory"
	"github.com/papercomputeco/keepsake/pkg/guard/postgres"
	"github.com/papercomputeco/keepsake/pkg/llm"
	"github.com/papercomputeco/keepsake/pkg/llm/ollama"
	"github.com/papercomputeco/keepsake/pkg/metrics"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
	"github.com/papercomputeco/keepsake/pkg/queue"
	"github.com/papercomputeco/keepsake/pkg/rehydrate"
	storageutils "github.com/papercomputeco/keepsake/pkg/storage/utils"
	"github.com/papercomputeco/keepsake/pkg/vector"
	vectorutils "github.com/papercomputeco/keepsake/pkg/vector/utils"
)

// stack is every component a running server owns.
type stack struct {
	registry     *prometheus.Registry
	cache        *cache.Cache
	orchestrator *orchestrator.Orchestrator
	exchange     *exchange.Exchange
	resolver     *rehydrate.Resolver

	// closers run in reverse order on shutdown.
	closers []func() error
}

func (s *stack) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases every component in reverse construction order.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// buildStack wires the configured tiers together. Relative store paths
// resolve against dir, the .keepsake directory in use. On error every
// component built so far is closed.
func buildStack(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) (_ *stack, err error) {
	s := &stack{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(s.registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	documents, err := storageutils.NewDriver(ctx, &storageutils.NewDriverOpts{
		ProviderType: cfg.Storage.Provider,
		Target:       resolvePath(dir, cfg.Storage.Provider, cfg.Storage.Target),
		Region:       cfg.Storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	s.onClose(documents.Close)

	blobs, err := blobutils.NewStore(ctx, &blobutils.NewStoreOpts{
		ProviderType:  cfg.BlobStore.Provider,
		Target:        resolvePath(dir, cfg.BlobStore.Provider, cfg.BlobStore.Target),
		Prefix:        cfg.BlobStore.Prefix,
		PublicBaseURL: cfg.BlobStore.PublicBaseURL,
		Region:        cfg.BlobStore.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating attachment store: %w", err)
	}
	s.onClose(blobs.Close)

	vectors, embedder, err := s.buildVectorTier(ctx, cfg, dir, logger)
	if err != nil {
		return nil, err
	}

	events, err := buildPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.onClose(events.Close)

	queueCfg, err := queueConfig(cfg)
	if err != nil {
		return nil, err
	}
	queueCfg.Metrics = m

	s.orchestrator, err = orchestrator.New(orchestrator.Config{
		Documents: documents,
		Blobs:     blobs,
		Vectors:   vectors,
		Embedder:  embedder,
		Events:    events,
		Queue:     queueCfg,
		Metrics:   m,
		Logger:    logger.With("component", "orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	s.onClose(s.orchestrator.Close)

	g, err := s.buildGuard(ctx, cfg, m, logger)
	if err != nil {
		return nil, err
	}

	s.cache, err = buildCache(cfg, dir, m, logger)
	if err != nil {
		return nil, err
	}
	s.onClose(func() error { s.cache.Close(); return nil })

	generator, err := buildGenerator(cfg)
	if err != nil {
		return nil, err
	}
	s.onClose(generator.Close)

	s.exchange, err = exchange.New(exchange.Config{
		Guard:        g,
		Orchestrator: s.orchestrator,
		Generator:    generator,
		Cache:        s.cache,
		Selector:     contextwindow.New(contextwindow.Config{Recent: int(cfg.Generation.RecentTurns)}),
		Logger:       logger.With("component", "exchange"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating exchange: %w", err)
	}

	s.resolver, err = buildResolver(cfg, blobs, m, logger)
	if err != nil {
		return nil, err
	}
	s.onClose(s.resolver.Close)

	return s, nil
}

func (s *stack) buildVectorTier(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) (vector.Driver, embeddings.Embedder, error) {
	provider := cfg.VectorStore.Provider
	if provider == "" || provider == "none" {
		logger.Info("vector store disabled, semantic recall is off")
		return nil, nil, nil
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   int(cfg.Embedding.Dimensions),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedder: %w", err)
	}
	s.onClose(embedder.Close)

	vectors, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: provider,
		Target:       resolvePath(dir, provider, cfg.VectorStore.Target),
		Port:         int(cfg.VectorStore.Port),
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       logger.With("component", "vector"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating vector store: %w", err)
	}
	s.onClose(vectors.Close)

	return vectors, embedder, nil
}

func (s *stack) buildGuard(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (guard.Guard, error) {
	ttl, err := config.Duration(cfg.Guard.TTL, guard.DefaultTTL)
	if err != nil {
		return nil, err
	}

	switch cfg.Guard.Provider {
	case "", "memory":
		g := inmemory.NewGuard(inmemory.Config{
			TTL:     ttl,
			Metrics: m,
			Logger:  logger.With("component", "guard"),
		})
		s.onClose(g.Close)
		return g, nil
	case "postgres":
		if cfg.Guard.Target == "" {
			return nil, errors.New("postgres guard requires guard.target")
		}
		pool, err := pgxpool.New(ctx, cfg.Guard.Target)
		if err != nil {
			return nil, fmt.Errorf("connecting guard pool: %w", err)
		}
		s.onClose(func() error { pool.Close(); return nil })

		g, err := postgres.NewGuard(ctx, pool, postgres.WithTTL(ttl), postgres.WithMetrics(m))
		if err != nil {
			return nil, fmt.Errorf("creating postgres guard: %w", err)
		}
		s.onClose(g.Close)
		return g, nil
	default:
		return nil, fmt.Errorf("unknown guard provider %q", cfg.Guard.Provider)
	}
}

func buildPublisher(cfg *config.Config, logger *slog.Logger) (eventstream.Publisher, error) {
	switch cfg.EventStream.Provider {
	case "", "nop":
		return nop.NewPublisher(logger.With("component", "eventstream")), nil
	case "kafka":
		var brokers []string
		for b := range strings.SplitSeq(cfg.EventStream.Brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: brokers,
			Topic:   cfg.EventStream.Topic,
		}, logger.With("component", "eventstream"))
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown eventstream provider %q", cfg.EventStream.Provider)
	}
}

func queueConfig(cfg *config.Config) (queue.Config, error) {
	base, err := config.Duration(cfg.Queue.BaseDelay, queue.DefaultBaseDelay)
	if err != nil {
		return queue.Config{}, err
	}
	maxDelay, err := config.Duration(cfg.Queue.MaxDelay, queue.DefaultMaxDelay)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{
		NumWorkers:  cfg.Queue.Workers,
		MaxAttempts: int(cfg.Queue.MaxAttempts),
		Backoff:     queue.Backoff{Base: base, Max: maxDelay},
	}, nil
}

// buildCache creates the response cache and pins the warm set from the
// .keepsake directory.
func buildCache(cfg *config.Config, dir string, m *metrics.Metrics, logger *slog.Logger) (*cache.Cache, error) {
	codeTTL, err := config.Duration(cfg.Cache.CodeTTL, cache.DefaultCodeTTL)
	if err != nil {
		return nil, err
	}
	qaTTL, err := config.Duration(cfg.Cache.QATTL, cache.DefaultQATTL)
	if err != nil {
		return nil, err
	}

	var warm []cache.WarmEntry
	if dir != "" {
		entries, err := dotdir.NewManager().LoadWarmSet(dir)
		if err != nil {
			return nil, err
		}
		warm = warmEntries(entries)
	}

	c, err := cache.New(cache.Config{
		CodeTTL: codeTTL,
		QATTL:   qaTTL,
		MaxCost: int64(cfg.Cache.MaxCost),
		Warm:    warm,
		Metrics: m,
		Logger:  logger.With("component", "cache"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}
	return c, nil
}

func warmEntries(entries []dotdir.WarmEntry) []cache.WarmEntry {
	out := make([]cache.WarmEntry, len(entries))
	for i, e := range entries {
		out[i] = cache.WarmEntry{Prompt: e.Prompt, Value: e.Value, Category: cache.Category(e.Category)}
	}
	return out
}

func buildGenerator(cfg *config.Config) (llm.Generator, error) {
	switch cfg.Generation.Provider {
	case "", "ollama":
		return ollama.NewGenerator(ollama.GeneratorConfig{
			BaseURL: cfg.Generation.Target,
			Model:   cfg.Generation.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
	}
}

func buildResolver(cfg *config.Config, blobs blob.Store, m *metrics.Metrics, logger *slog.Logger) (*rehydrate.Resolver, error) {
	fetchTimeout, err := config.Duration(cfg.Resolver.FetchTimeout, rehydrate.DefaultFetchTimeout)
	if err != nil {
		return nil, err
	}
	retryAfter, err := config.Duration(cfg.Resolver.RetryAfter, rehydrate.DefaultRetryAfter)
	if err != nil {
		return nil, err
	}

	r, err := rehydrate.New(rehydrate.Config{
		Blobs:        blobs,
		Capacity:     int(cfg.Resolver.Capacity),
		FetchTimeout: fetchTimeout,
		RetryAfter:   retryAfter,
		Metrics:      m,
		Logger:       logger.With("component", "resolver"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}
	return r, nil
}

// resolvePath anchors relative file paths of file-backed providers in dir.
func resolvePath(dir, provider, target string) string {
	switch provider {
	case "sqlite", "libsql", "chromem", "filesystem":
	default:
		return target
	}
	if dir == "" || target == "" || filepath.IsAbs(target) || strings.Contains(target, "://") || target == ":memory:" {
		return target
	}
	return filepath.Join(dir, target)
}
