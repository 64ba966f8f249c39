package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent keepsake configuration stored as
// config.toml in the .keepsake/ directory. The TOML layout uses sections for
// logical grouping. Durations are Go duration strings ("24h", "500ms").
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	BlobStore   BlobStoreConfig   `toml:"blob_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Generation  GenerationConfig  `toml:"generation"`
	Cache       CacheConfig       `toml:"cache"`
	Guard       GuardConfig       `toml:"guard"`
	Queue       QueueConfig       `toml:"queue"`
	Resolver    ResolverConfig    `toml:"resolver"`
	EventStream EventStreamConfig `toml:"eventstream"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
}

// StorageConfig selects the document store holding session records.
type StorageConfig struct {
	// Provider is one of memory, sqlite, libsql, postgres, dynamodb.
	Provider string `toml:"provider,omitempty"`

	// Target is a file path, connection string, URL, or table name.
	Target string `toml:"target,omitempty"`
	Region string `toml:"region,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	// Provider is one of memory, chromem, sqlite, chroma, qdrant. Empty
	// disables long-term semantic memory.
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Port       uint   `toml:"port,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// BlobStoreConfig holds object storage settings for attachments.
type BlobStoreConfig struct {
	// Provider is one of memory, filesystem, s3.
	Provider      string `toml:"provider,omitempty"`
	Target        string `toml:"target,omitempty"`
	Prefix        string `toml:"prefix,omitempty"`
	PublicBaseURL string `toml:"public_base_url,omitempty"`
	Region        string `toml:"region,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// GenerationConfig holds settings for the generative model and the context
// handed to it.
type GenerationConfig struct {
	Provider    string `toml:"provider,omitempty"`
	Target      string `toml:"target,omitempty"`
	Model       string `toml:"model,omitempty"`
	RecentTurns uint   `toml:"recent_turns,omitempty"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	CodeTTL string `toml:"code_ttl,omitempty"`
	QATTL   string `toml:"qa_ttl,omitempty"`
	MaxCost uint   `toml:"max_cost,omitempty"`
}

// GuardConfig holds conversation lock settings.
type GuardConfig struct {
	// Provider is memory or postgres.
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	TTL      string `toml:"ttl,omitempty"`
}

// QueueConfig holds persistence queue settings.
type QueueConfig struct {
	Workers     uint   `toml:"workers,omitempty"`
	MaxAttempts uint   `toml:"max_attempts,omitempty"`
	BaseDelay   string `toml:"base_delay,omitempty"`
	MaxDelay    string `toml:"max_delay,omitempty"`
}

// ResolverConfig holds rehydration resolver settings.
type ResolverConfig struct {
	Capacity     uint   `toml:"capacity,omitempty"`
	FetchTimeout string `toml:"fetch_timeout,omitempty"`
	RetryAfter   string `toml:"retry_after,omitempty"`
}

// EventStreamConfig holds durability event publishing settings.
type EventStreamConfig struct {
	// Provider is nop or kafka.
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma separated broker list.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// server. Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// Duration parses a configured duration, returning fallback for an empty
// value.
func Duration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = v
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider": stringKey(func(c *Config) *string { return &c.Storage.Provider }),
	"storage.target":   stringKey(func(c *Config) *string { return &c.Storage.Target }),
	"storage.region":   stringKey(func(c *Config) *string { return &c.Storage.Region }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.port":       uintKey("vector_store.port", func(c *Config) *uint { return &c.VectorStore.Port }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),

	"blob_store.provider":        stringKey(func(c *Config) *string { return &c.BlobStore.Provider }),
	"blob_store.target":          stringKey(func(c *Config) *string { return &c.BlobStore.Target }),
	"blob_store.prefix":          stringKey(func(c *Config) *string { return &c.BlobStore.Prefix }),
	"blob_store.public_base_url": stringKey(func(c *Config) *string { return &c.BlobStore.PublicBaseURL }),
	"blob_store.region":          stringKey(func(c *Config) *string { return &c.BlobStore.Region }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),

	"generation.provider":     stringKey(func(c *Config) *string { return &c.Generation.Provider }),
	"generation.target":       stringKey(func(c *Config) *string { return &c.Generation.Target }),
	"generation.model":        stringKey(func(c *Config) *string { return &c.Generation.Model }),
	"generation.recent_turns": uintKey("generation.recent_turns", func(c *Config) *uint { return &c.Generation.RecentTurns }),

	"cache.code_ttl": durationKey("cache.code_ttl", func(c *Config) *string { return &c.Cache.CodeTTL }),
	"cache.qa_ttl":   durationKey("cache.qa_ttl", func(c *Config) *string { return &c.Cache.QATTL }),
	"cache.max_cost": uintKey("cache.max_cost", func(c *Config) *uint { return &c.Cache.MaxCost }),

	"guard.provider": stringKey(func(c *Config) *string { return &c.Guard.Provider }),
	"guard.target":   stringKey(func(c *Config) *string { return &c.Guard.Target }),
	"guard.ttl":      durationKey("guard.ttl", func(c *Config) *string { return &c.Guard.TTL }),

	"queue.workers":      uintKey("queue.workers", func(c *Config) *uint { return &c.Queue.Workers }),
	"queue.max_attempts": uintKey("queue.max_attempts", func(c *Config) *uint { return &c.Queue.MaxAttempts }),
	"queue.base_delay":   durationKey("queue.base_delay", func(c *Config) *string { return &c.Queue.BaseDelay }),
	"queue.max_delay":    durationKey("queue.max_delay", func(c *Config) *string { return &c.Queue.MaxDelay }),

	"resolver.capacity":      uintKey("resolver.capacity", func(c *Config) *uint { return &c.Resolver.Capacity }),
	"resolver.fetch_timeout": durationKey("resolver.fetch_timeout", func(c *Config) *string { return &c.Resolver.FetchTimeout }),
	"resolver.retry_after":   durationKey("resolver.retry_after", func(c *Config) *string { return &c.Resolver.RetryAfter }),

	"eventstream.provider": stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.brokers":  stringKey(func(c *Config) *string { return &c.EventStream.Brokers }),
	"eventstream.topic":    stringKey(func(c *Config) *string { return &c.EventStream.Topic }),

	"api.listen":        stringKey(func(c *Config) *string { return &c.API.Listen }),
	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),
}

// orderedKeys lists configKeys in TOML section order.
var orderedKeys = []string{
	"storage.provider",
	"storage.target",
	"storage.region",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.port",
	"vector_store.collection",
	"blob_store.provider",
	"blob_store.target",
	"blob_store.prefix",
	"blob_store.public_base_url",
	"blob_store.region",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"generation.provider",
	"generation.target",
	"generation.model",
	"generation.recent_turns",
	"cache.code_ttl",
	"cache.qa_ttl",
	"cache.max_cost",
	"guard.provider",
	"guard.target",
	"guard.ttl",
	"queue.workers",
	"queue.max_attempts",
	"queue.base_delay",
	"queue.max_delay",
	"resolver.capacity",
	"resolver.fetch_timeout",
	"resolver.retry_after",
	"eventstream.provider",
	"eventstream.brokers",
	"eventstream.topic",
	"api.listen",
	"client.api_target",
}
