package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/cliui"
)

var _ = Describe("cliui", func() {
	DescribeTable("FormatDuration",
		func(d time.Duration, want string) {
			Expect(cliui.FormatDuration(d)).To(Equal(want))
		},
		Entry("milliseconds", 12*time.Millisecond, "12ms"),
		Entry("seconds", 3200*time.Millisecond, "3.2s"),
	)

	It("marks errors", func() {
		Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
		Expect(cliui.Mark(errors.New("boom"))).To(Equal(cliui.FailMark))
	})

	It("returns the step's error and prints the final mark", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "saving", func() error { return errors.New("boom") })
		Expect(err).To(MatchError("boom"))
		Expect(buf.String()).To(ContainSubstring("saving"))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})

	It("distinguishes durability states", func() {
		Expect(cliui.Durability(chat.DurabilityDurable)).NotTo(Equal(cliui.Durability(chat.DurabilityPending)))
		Expect(cliui.Durability(chat.DurabilityFailed)).To(ContainSubstring("✗"))
	})

	It("renders markdown", func() {
		out, err := cliui.RenderMarkdown("# Title\n\nSome *text*.")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Title"))
	})
})
