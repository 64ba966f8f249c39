package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/keepsake/cmd/keepsake/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd.Execute()
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	Describe("set subcommand", func() {
		It("sets a config value successfully", func() {
			Expect(run("set", "storage.provider", "postgres")).To(Succeed())

			data, err := os.ReadFile(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`provider = "postgres"`))
			Expect(out.String()).To(ContainSubstring("storage.provider"))
		})

		It("rejects unknown keys", func() {
			Expect(run("set", "proxy.provider", "anthropic")).To(HaveOccurred())
		})

		It("requires exactly two arguments", func() {
			Expect(run("set", "storage.provider")).To(HaveOccurred())
		})

		It("rejects invalid uint values", func() {
			Expect(run("set", "embedding.dimensions", "not-a-number")).To(HaveOccurred())
		})

		It("rejects invalid durations", func() {
			Expect(run("set", "cache.qa_ttl", "forever")).To(HaveOccurred())
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			Expect(run("set", "queue.workers", "8")).To(Succeed())
			out.Reset()

			Expect(run("get", "queue.workers")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("8"))
		})

		It("reports defaults for unset keys", func() {
			Expect(run("get", "generation.model")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("gemma3"))
		})

		It("rejects unknown keys", func() {
			Expect(run("get", "invalid_key")).To(HaveOccurred())
		})

		It("requires exactly one argument", func() {
			Expect(run("get")).To(HaveOccurred())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key", func() {
			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("storage.provider"))
			Expect(out.String()).To(ContainSubstring("client.api_target"))
		})

		It("rejects any arguments", func() {
			Expect(run("list", "extra")).To(HaveOccurred())
		})
	})

	It("completes config keys", func() {
		cmd := configcmder.NewConfigCmd()
		get, _, err := cmd.Find([]string{"get"})
		Expect(err).NotTo(HaveOccurred())

		keys, directive := get.ValidArgsFunction(get, nil, "")
		Expect(keys).To(ContainElement("guard.ttl"))
		Expect(directive).To(Equal(cobra.ShellCompDirectiveNoFileComp))
	})
})
