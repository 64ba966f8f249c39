package warmcmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	warmcmder "github.com/papercomputeco/keepsake/cmd/keepsake/warm"
	"github.com/papercomputeco/keepsake/pkg/dotdir"
)

var _ = Describe("Warm command", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := warmcmder.NewWarmCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd.Execute()
	}

	load := func() []dotdir.WarmEntry {
		entries, err := dotdir.NewManager().LoadWarmSet(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		return entries
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	It("lists an empty set", func() {
		Expect(run("list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No warm answers."))
	})

	It("adds answers", func() {
		Expect(run("add", "What are your hours?", "9 to 5")).To(Succeed())
		Expect(run("add", "Reverse a slice?", "slices.Reverse(s)", "--category", "code")).To(Succeed())

		Expect(load()).To(Equal([]dotdir.WarmEntry{
			{Prompt: "What are your hours?", Value: "9 to 5", Category: "qa"},
			{Prompt: "Reverse a slice?", Value: "slices.Reverse(s)", Category: "code"},
		}))

		out.Reset()
		Expect(run("list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("What are your hours?"))
		Expect(out.String()).To(ContainSubstring("[code]"))
	})

	It("replaces answers whose prompts normalize alike", func() {
		Expect(run("add", "What are your hours?", "9 to 5")).To(Succeed())
		Expect(run("add", "what are your HOURS", "10 to 6")).To(Succeed())

		entries := load()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Value).To(Equal("10 to 6"))
	})

	It("removes answers", func() {
		Expect(run("add", "What are your hours?", "9 to 5")).To(Succeed())
		Expect(run("remove", "what are your hours")).To(Succeed())
		Expect(load()).To(BeEmpty())
	})

	It("rejects unknown prompts on remove", func() {
		Expect(run("remove", "nothing here")).To(MatchError(ContainSubstring("no warm answer")))
	})

	It("rejects invalid categories and empty prompts", func() {
		Expect(run("add", "hi", "hello", "--category", "poetry")).To(MatchError(ContainSubstring("invalid cache category")))
		Expect(run("add", "?!", "hello")).To(MatchError(ContainSubstring("empty once normalized")))
	})
})
