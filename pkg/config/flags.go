package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline.
type Flag struct {
	// Name is the long flag name (e.g. "listen").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "api.listen").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagAPIListen       = "api-listen"
	FlagAPITarget       = "api-target"
	FlagStorageProv     = "storage-provider"
	FlagStorageTgt      = "storage-target"
	FlagVectorStoreProv = "vector-store-provider"
	FlagVectorStoreTgt  = "vector-store-target"
	FlagBlobStoreProv   = "blob-store-provider"
	FlagBlobStoreTgt    = "blob-store-target"
	FlagEmbeddingProv   = "embedding-provider"
	FlagEmbeddingTgt    = "embedding-target"
	FlagEmbeddingModel  = "embedding-model"
	FlagEmbeddingDims   = "embedding-dimensions"
	FlagGenerationTgt   = "generation-target"
	FlagGenerationModel = "generation-model"
	FlagGuardProv       = "guard-provider"
	FlagGuardTgt        = "guard-target"
	FlagQueueWorkers    = "queue-workers"
	FlagKafkaBrokers    = "kafka-brokers"
)

// ServeFlags is the registry used by the serve command.
var ServeFlags = FlagSet{
	FlagAPIListen:       {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	FlagStorageProv:     {Name: "storage-provider", ViperKey: "storage.provider", Description: "Session store (memory, sqlite, libsql, postgres, dynamodb)"},
	FlagStorageTgt:      {Name: "storage-target", Shorthand: "s", ViperKey: "storage.target", Description: "Session store path, DSN, URL or table"},
	FlagVectorStoreProv: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Vector store (memory, chromem, sqlite, chroma, qdrant, none)"},
	FlagVectorStoreTgt:  {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store path, URL or host"},
	FlagBlobStoreProv:   {Name: "blob-store-provider", ViperKey: "blob_store.provider", Description: "Attachment store (memory, filesystem, s3)"},
	FlagBlobStoreTgt:    {Name: "blob-store-target", ViperKey: "blob_store.target", Description: "Attachment directory or bucket"},
	FlagEmbeddingProv:   {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, hash)"},
	FlagEmbeddingTgt:    {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider URL"},
	FlagEmbeddingModel:  {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	FlagEmbeddingDims:   {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding dimensions"},
	FlagGenerationTgt:   {Name: "generation-target", Shorthand: "u", ViperKey: "generation.target", Description: "Generation provider URL"},
	FlagGenerationModel: {Name: "generation-model", Shorthand: "m", ViperKey: "generation.model", Description: "Generation model name"},
	FlagGuardProv:       {Name: "guard-provider", ViperKey: "guard.provider", Description: "Conversation lock backend (memory, postgres)"},
	FlagGuardTgt:        {Name: "guard-target", ViperKey: "guard.target", Description: "Postgres DSN for the conversation lock"},
	FlagQueueWorkers:    {Name: "queue-workers", ViperKey: "queue.workers", Description: "Persistence queue workers"},
	FlagKafkaBrokers:    {Name: "kafka-brokers", ViperKey: "eventstream.brokers", Description: "Comma separated Kafka brokers for durability events"},
}

// ClientFlags is the registry used by commands that call a running server.
var ClientFlags = FlagSet{
	FlagAPITarget: {Name: "api-target", Shorthand: "a", ViperKey: "client.api_target", Description: "Keepsake API server URL"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}

// ResolveAPITarget returns the API server URL for a client command: the
// api-target flag when given, then KEEPSAKE_CLIENT_API_TARGET, then
// client.api_target from config.toml, then the default.
func ResolveAPITarget(cmd *cobra.Command) (string, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := InitViper(configDir)
	if err != nil {
		return "", err
	}
	BindRegisteredFlags(v, cmd, ClientFlags, []string{FlagAPITarget})

	return v.GetString(ClientFlags[FlagAPITarget].ViperKey), nil
}
