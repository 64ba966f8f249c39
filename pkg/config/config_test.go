package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/keepsake/pkg/config"
)

func writeConfig(dir, data string) {
	Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0o600)).To(Succeed())
}

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("loads all config sections", func() {
			writeConfig(tmpDir, `version = 0

[storage]
provider = "postgres"
target = "postgres://localhost/keepsake"

[vector_store]
provider = "qdrant"
target = "qdrant.internal"
port = 6334
collection = "turns"

[blob_store]
provider = "s3"
target = "attachments"
prefix = "media"
public_base_url = "https://cdn.example.com"
region = "eu-west-1"

[embedding]
provider = "ollama"
model = "nomic-embed-text"
dimensions = 1024

[generation]
model = "llama3"
recent_turns = 8

[cache]
code_ttl = "12h"
qa_ttl = "30m"

[guard]
provider = "postgres"
ttl = "90s"

[queue]
workers = 6
max_attempts = 9
base_delay = "250ms"

[resolver]
capacity = 512

[eventstream]
provider = "kafka"
brokers = "kafka-1:9092,kafka-2:9092"

[api]
listen = ":9091"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Provider).To(Equal("postgres"))
			Expect(cfg.Storage.Target).To(Equal("postgres://localhost/keepsake"))
			Expect(cfg.VectorStore.Provider).To(Equal("qdrant"))
			Expect(cfg.VectorStore.Port).To(Equal(uint(6334)))
			Expect(cfg.VectorStore.Collection).To(Equal("turns"))
			Expect(cfg.BlobStore.Provider).To(Equal("s3"))
			Expect(cfg.BlobStore.PublicBaseURL).To(Equal("https://cdn.example.com"))
			Expect(cfg.BlobStore.Region).To(Equal("eu-west-1"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(1024)))
			Expect(cfg.Generation.Model).To(Equal("llama3"))
			Expect(cfg.Generation.RecentTurns).To(Equal(uint(8)))
			Expect(cfg.Cache.CodeTTL).To(Equal("12h"))
			Expect(cfg.Cache.QATTL).To(Equal("30m"))
			Expect(cfg.Guard.Provider).To(Equal("postgres"))
			Expect(cfg.Guard.TTL).To(Equal("90s"))
			Expect(cfg.Queue.Workers).To(Equal(uint(6)))
			Expect(cfg.Queue.MaxAttempts).To(Equal(uint(9)))
			Expect(cfg.Queue.BaseDelay).To(Equal("250ms"))
			Expect(cfg.Resolver.Capacity).To(Equal(uint(512)))
			Expect(cfg.EventStream.Provider).To(Equal("kafka"))
			Expect(cfg.EventStream.Brokers).To(Equal("kafka-1:9092,kafka-2:9092"))
			Expect(cfg.API.Listen).To(Equal(":9091"))
		})

		It("fills in defaults for unset fields in a partial config", func() {
			writeConfig(tmpDir, `[generation]
model = "llama3"
`)

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())

			defaults := config.NewDefaultConfig()
			Expect(cfg.Generation.Model).To(Equal("llama3"))
			Expect(cfg.Generation.Target).To(Equal(defaults.Generation.Target))
			Expect(cfg.Generation.RecentTurns).To(Equal(defaults.Generation.RecentTurns))
			Expect(cfg.Cache).To(Equal(defaults.Cache))
			Expect(cfg.Queue).To(Equal(defaults.Queue))
		})

		It("returns error for malformed TOML", func() {
			writeConfig(tmpDir, "not valid toml [[[")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(cfg).To(BeNil())
		})

		It("returns error for unsupported config version", func() {
			writeConfig(tmpDir, "version = 99\n")

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version")))
			Expect(cfg).To(BeNil())
		})
	})

	Describe("SaveConfig", func() {
		It("persists config to disk", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.Storage.Provider = "memory"
			Expect(c.SaveConfig(cfg)).To(Succeed())

			data, err := os.ReadFile(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("[storage]"))
			Expect(string(data)).To(ContainSubstring(`provider = "memory"`))
		})

		It("returns error for nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).To(MatchError(ContainSubstring("nil config")))
		})
	})

	Describe("SetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sets a string config key", func() {
			Expect(c.SetConfigValue("blob_store.provider", "s3")).To(Succeed())

			v, err := c.GetConfigValue("blob_store.provider")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("s3"))
		})

		It("sets a uint config key", func() {
			Expect(c.SetConfigValue("queue.workers", "8")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Queue.Workers).To(Equal(uint(8)))
		})

		It("validates duration keys", func() {
			Expect(c.SetConfigValue("cache.qa_ttl", "45m")).To(Succeed())
			Expect(c.SetConfigValue("cache.qa_ttl", "soon")).To(MatchError(ContainSubstring("invalid value for cache.qa_ttl")))

			v, err := c.GetConfigValue("cache.qa_ttl")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("45m"))
		})

		It("returns error for invalid uint value", func() {
			Expect(c.SetConfigValue("resolver.capacity", "lots")).To(MatchError(ContainSubstring("invalid value for resolver.capacity")))
		})

		It("returns error for unknown key", func() {
			Expect(c.SetConfigValue("proxy.upstream", "x")).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("preserves existing values when setting a new key", func() {
			Expect(c.SetConfigValue("storage.provider", "postgres")).To(Succeed())
			Expect(c.SetConfigValue("storage.target", "postgres://db/keepsake")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Provider).To(Equal("postgres"))
			Expect(cfg.Storage.Target).To(Equal("postgres://db/keepsake"))
		})
	})

	Describe("GetConfigValue", func() {
		It("returns the default when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			v, err := c.GetConfigValue("guard.ttl")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("2m"))
		})

		It("returns empty string for a key with no default", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			v, err := c.GetConfigValue("blob_store.public_base_url")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeEmpty())
		})
	})

	Describe("ValidConfigKeys", func() {
		It("lists every key once in section order", func() {
			keys := config.ValidConfigKeys()
			Expect(keys[0]).To(Equal("storage.provider"))
			Expect(keys).To(ContainElements("cache.code_ttl", "queue.max_attempts", "resolver.retry_after", "eventstream.topic"))

			seen := map[string]bool{}
			for _, k := range keys {
				Expect(seen[k]).To(BeFalse(), k)
				seen[k] = true
				Expect(config.IsValidConfigKey(k)).To(BeTrue())
			}
		})

		It("rejects unknown keys", func() {
			Expect(config.IsValidConfigKey("proxy.listen")).To(BeFalse())
			Expect(config.IsValidConfigKey("")).To(BeFalse())
		})
	})
})

var _ = Describe("PresetConfig", func() {
	It("builds the local preset without a model server for embeddings", func() {
		cfg, err := config.PresetConfig("local")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Embedding.Provider).To(Equal("hash"))
		Expect(cfg.Storage.Provider).To(Equal("sqlite"))
	})

	It("builds the aws preset", func() {
		cfg, err := config.PresetConfig("AWS")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Provider).To(Equal("dynamodb"))
		Expect(cfg.BlobStore.Provider).To(Equal("s3"))
		Expect(cfg.VectorStore.Provider).To(Equal("qdrant"))
	})

	It("returns error for unknown preset", func() {
		_, err := config.PresetConfig("azure")
		Expect(err).To(MatchError(ContainSubstring("unknown preset")))
	})
})

var _ = Describe("Duration", func() {
	It("parses durations and falls back when empty", func() {
		d, err := config.Duration("90s", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(90 * time.Second))

		d, err = config.Duration("", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(time.Minute))

		_, err = config.Duration("later", time.Minute)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("returns viper with defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		defaults := config.NewDefaultConfig()
		Expect(v.GetString("api.listen")).To(Equal(defaults.API.Listen))
		Expect(v.GetString("storage.provider")).To(Equal(defaults.Storage.Provider))
		Expect(v.GetUint("queue.workers")).To(Equal(defaults.Queue.Workers))
		Expect(v.GetDuration("cache.code_ttl")).To(Equal(24 * time.Hour))
	})

	It("reads config file values over defaults", func() {
		writeConfig(tmpDir, `[storage]
provider = "postgres"
`)

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("storage.provider")).To(Equal("postgres"))
		Expect(v.GetString("api.listen")).To(Equal(config.NewDefaultConfig().API.Listen))
	})

	It("env vars take precedence over config file values", func() {
		writeConfig(tmpDir, `[storage]
provider = "postgres"
`)
		GinkgoT().Setenv("KEEPSAKE_STORAGE_PROVIDER", "dynamodb")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("storage.provider")).To(Equal("dynamodb"))
	})

	It("materializes a Config from the precedence chain", func() {
		writeConfig(tmpDir, `[queue]
workers = 7
`)
		GinkgoT().Setenv("KEEPSAKE_CACHE_QA_TTL", "5m")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.FromViper(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Queue.Workers).To(Equal(uint(7)))
		Expect(cfg.Cache.QATTL).To(Equal("5m"))
		Expect(cfg.Storage.Provider).To(Equal(config.NewDefaultConfig().Storage.Provider))
	})

	It("rejects invalid values from the environment", func() {
		GinkgoT().Setenv("KEEPSAKE_QUEUE_WORKERS", "many")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		_, err = config.FromViper(v)
		Expect(err).To(MatchError(ContainSubstring("queue.workers")))
	})
})

var _ = Describe("BindFlags", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("binds cobra flags to viper keys via registry", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &listen)
		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())

		config.BindRegisteredFlags(v, cmd, config.ServeFlags, []string{config.FlagAPIListen})
		Expect(v.GetString("api.listen")).To(Equal(":7777"))
	})

	It("falls through to config when flag not set", func() {
		writeConfig(tmpDir, `[api]
listen = ":5555"
`)
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.ServeFlags, config.FlagAPIListen, &listen)
		config.BindRegisteredFlags(v, cmd, config.ServeFlags, []string{config.FlagAPIListen})

		Expect(v.GetString("api.listen")).To(Equal(":5555"))
	})

	It("pulls name, shorthand and default from the registry", func() {
		cmd := &cobra.Command{Use: "test"}
		var workers uint
		config.AddUintFlag(cmd, config.ServeFlags, config.FlagQueueWorkers, &workers)

		f := cmd.Flags().Lookup("queue-workers")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal("3"))
		Expect(workers).To(Equal(uint(3)))

		var target string
		config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &target)
		Expect(cmd.Flags().ShorthandLookup("a")).NotTo(BeNil())
		Expect(target).To(Equal("http://localhost:8081"))
	})

	It("skips unknown registry keys", func() {
		cmd := &cobra.Command{Use: "test"}
		var x string
		config.AddStringFlag(cmd, config.ServeFlags, "does-not-exist", &x)
		Expect(cmd.Flags().HasFlags()).To(BeFalse())
	})
})

var _ = Describe("ResolveAPITarget", func() {
	var tmpDir string

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("config-dir", "", "")
		var target string
		config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &target)
		return cmd
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	It("prefers the flag", func() {
		writeConfig(tmpDir, "[client]\napi_target = \"http://config:1\"\n")
		cmd := newCmd()
		Expect(cmd.Flags().Set("config-dir", tmpDir)).To(Succeed())
		Expect(cmd.Flags().Set("api-target", "http://flag:2")).To(Succeed())

		target, err := config.ResolveAPITarget(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("http://flag:2"))
	})

	It("falls back to config.toml", func() {
		writeConfig(tmpDir, "[client]\napi_target = \"http://config:1\"\n")
		cmd := newCmd()
		Expect(cmd.Flags().Set("config-dir", tmpDir)).To(Succeed())

		target, err := config.ResolveAPITarget(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("http://config:1"))
	})

	It("falls back to the default", func() {
		cmd := newCmd()
		Expect(cmd.Flags().Set("config-dir", tmpDir)).To(Succeed())

		target, err := config.ResolveAPITarget(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("http://localhost:8081"))
	})
})
