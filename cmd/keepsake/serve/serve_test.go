package servecmder

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/cache"
	"github.com/papercomputeco/keepsake/pkg/config"
	"github.com/papercomputeco/keepsake/pkg/dotdir"
	"github.com/papercomputeco/keepsake/pkg/logger"
)

func memoryConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Storage = config.StorageConfig{Provider: "memory"}
	cfg.VectorStore = config.VectorStoreConfig{Provider: "memory"}
	cfg.BlobStore = config.BlobStoreConfig{Provider: "memory"}
	cfg.Embedding = config.EmbeddingConfig{Provider: "hash", Dimensions: 32}
	return cfg
}

var _ = Describe("NewServeCmd", func() {
	It("registers the serve flags", func() {
		cmd := NewServeCmd()
		Expect(cmd.Use).To(Equal("serve"))
		for _, key := range serveFlagKeys {
			Expect(cmd.Flags().Lookup(config.ServeFlags[key].Name)).NotTo(BeNil(), key)
		}
		Expect(cmd.Flags().Lookup("json-logs")).NotTo(BeNil())
	})

	It("rejects positional arguments", func() {
		cmd := NewServeCmd()
		cmd.SetArgs([]string{"extra"})
		Expect(cmd.Execute()).To(HaveOccurred())
	})
})

var _ = Describe("teeToLogFile", func() {
	It("writes records to the terminal and as JSON to keepsake.log", func() {
		dir := GinkgoT().TempDir()
		var terminal bytes.Buffer
		c := &ServeCommander{logger: logger.New(logger.WithWriter(&terminal))}

		f, err := c.teeToLogFile(dir)
		Expect(err).NotTo(HaveOccurred())
		c.logger.Info("warm set reloaded", "entries", 3)
		Expect(f.Close()).To(Succeed())

		Expect(terminal.String()).To(ContainSubstring("warm set reloaded"))
		data, err := os.ReadFile(filepath.Join(dir, logFileName))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"msg":"warm set reloaded"`))
		Expect(string(data)).To(ContainSubstring(`"entries":3`))
	})
})

var _ = Describe("buildStack", func() {
	var (
		ctx context.Context
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
	})

	It("wires every component from in-memory providers", func() {
		s, err := buildStack(ctx, memoryConfig(), dir, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		Expect(s.orchestrator).NotTo(BeNil())
		Expect(s.exchange).NotTo(BeNil())
		Expect(s.resolver).NotTo(BeNil())
		Expect(s.cache).NotTo(BeNil())

		families, err := s.registry.Gather()
		Expect(err).NotTo(HaveOccurred())
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		Expect(names).To(ContainElement("keepsake_queue_depth"))
	})

	It("builds without a vector tier", func() {
		cfg := memoryConfig()
		cfg.VectorStore.Provider = "none"

		s, err := buildStack(ctx, cfg, dir, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		Expect(s.orchestrator).NotTo(BeNil())
	})

	It("loads the warm set from the directory", func() {
		err := dotdir.NewManager().SaveWarmSet([]dotdir.WarmEntry{
			{Prompt: "What is keepsake?", Value: "A memory layer.", Category: string(cache.CategoryQA)},
		}, dir)
		Expect(err).NotTo(HaveOccurred())

		s, err := buildStack(ctx, memoryConfig(), dir, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		e, ok := s.cache.Lookup(cache.NewKey("What is keepsake?"))
		Expect(ok).To(BeTrue())
		Expect(e.Value).To(Equal("A memory layer."))
		Expect(e.Warm).To(BeTrue())
	})

	It("rejects unknown providers", func() {
		cfg := memoryConfig()
		cfg.Guard.Provider = "zookeeper"
		_, err := buildStack(ctx, cfg, dir, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("unknown guard provider")))

		cfg = memoryConfig()
		cfg.EventStream.Provider = "carrier-pigeon"
		_, err = buildStack(ctx, cfg, dir, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("unknown eventstream provider")))
	})

	It("rejects a postgres guard without a target", func() {
		cfg := memoryConfig()
		cfg.Guard = config.GuardConfig{Provider: "postgres"}
		_, err := buildStack(ctx, cfg, dir, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("guard.target")))
	})

	It("rejects malformed durations", func() {
		cfg := memoryConfig()
		cfg.Queue.BaseDelay = "soon"
		_, err := buildStack(ctx, cfg, dir, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("invalid duration")))
	})
})

var _ = Describe("resolvePath", func() {
	It("anchors relative paths of file-backed providers", func() {
		Expect(resolvePath("/data/.keepsake", "sqlite", "keepsake.db")).To(Equal(filepath.Join("/data/.keepsake", "keepsake.db")))
		Expect(resolvePath("/data/.keepsake", "filesystem", "blobs")).To(Equal(filepath.Join("/data/.keepsake", "blobs")))
	})

	It("leaves everything else untouched", func() {
		Expect(resolvePath("/data/.keepsake", "sqlite", "/abs/keepsake.db")).To(Equal("/abs/keepsake.db"))
		Expect(resolvePath("/data/.keepsake", "libsql", "libsql://db.example.com")).To(Equal("libsql://db.example.com"))
		Expect(resolvePath("/data/.keepsake", "sqlite", ":memory:")).To(Equal(":memory:"))
		Expect(resolvePath("", "sqlite", "keepsake.db")).To(Equal("keepsake.db"))
		Expect(resolvePath("/data/.keepsake", "dynamodb", "sessions")).To(Equal("sessions"))
	})
})
