package config

const (
	defaultStorageProvider = "sqlite"
	defaultStorageTarget   = "keepsake.db"

	defaultVectorProvider   = "chromem"
	defaultVectorTarget     = "vectors"
	defaultVectorCollection = "keepsake_turns"

	defaultBlobProvider = "filesystem"
	defaultBlobTarget   = "blobs"

	defaultOllamaTarget = "http://localhost:11434"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultGenerationProvider = "ollama"
	defaultGenerationModel    = "gemma3"
	defaultRecentTurns        = 5

	defaultCodeTTL = "24h"
	defaultQATTL   = "1h"
	defaultMaxCost = 64 << 20

	defaultGuardProvider = "memory"
	defaultGuardTTL      = "2m"

	defaultQueueWorkers     = 3
	defaultQueueMaxAttempts = 5
	defaultQueueBaseDelay   = "1s"
	defaultQueueMaxDelay    = "5m"

	defaultResolverCapacity     = 128
	defaultResolverFetchTimeout = "30s"
	defaultResolverRetryAfter   = "30s"

	defaultEventStreamProvider = "nop"
	defaultEventStreamTopic    = "keepsake.durability"

	defaultAPIListen       = ":8081"
	defaultClientAPITarget = "http://localhost:8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
			Target:   defaultStorageTarget,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Target:     defaultVectorTarget,
			Collection: defaultVectorCollection,
		},
		BlobStore: BlobStoreConfig{
			Provider: defaultBlobProvider,
			Target:   defaultBlobTarget,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultOllamaTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Generation: GenerationConfig{
			Provider:    defaultGenerationProvider,
			Target:      defaultOllamaTarget,
			Model:       defaultGenerationModel,
			RecentTurns: defaultRecentTurns,
		},
		Cache: CacheConfig{
			CodeTTL: defaultCodeTTL,
			QATTL:   defaultQATTL,
			MaxCost: defaultMaxCost,
		},
		Guard: GuardConfig{
			Provider: defaultGuardProvider,
			TTL:      defaultGuardTTL,
		},
		Queue: QueueConfig{
			Workers:     defaultQueueWorkers,
			MaxAttempts: defaultQueueMaxAttempts,
			BaseDelay:   defaultQueueBaseDelay,
			MaxDelay:    defaultQueueMaxDelay,
		},
		Resolver: ResolverConfig{
			Capacity:     defaultResolverCapacity,
			FetchTimeout: defaultResolverFetchTimeout,
			RetryAfter:   defaultResolverRetryAfter,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
	}
}
