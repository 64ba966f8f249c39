package llm_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/llm"
)

func feed(chunks ...llm.Chunk) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

var _ = Describe("PromptContext", func() {
	It("rejects a blank prompt", func() {
		Expect((&llm.PromptContext{Prompt: "  "}).Validate()).To(MatchError(llm.ErrEmptyPrompt))
		var pc *llm.PromptContext
		Expect(pc.Validate()).To(MatchError(llm.ErrEmptyPrompt))
	})

	It("accepts a prompt", func() {
		Expect((&llm.PromptContext{Prompt: "hi"}).Validate()).To(Succeed())
	})
})

var _ = Describe("Collect", func() {
	It("concatenates text and gathers media until done", func() {
		res, err := llm.Collect(context.Background(), feed(
			llm.Chunk{Text: "Hello, "},
			llm.Chunk{Media: &llm.Media{ID: "img-1", ContentType: "image/png"}},
			llm.Chunk{Text: "world"},
			llm.Chunk{Done: true},
			llm.Chunk{Text: "ignored"},
		))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Text).To(Equal("Hello, world"))
		Expect(res.Media).To(HaveLen(1))
		Expect(res.Media[0].ID).To(Equal("img-1"))
	})

	It("treats a closed channel as the end of the stream", func() {
		res, err := llm.Collect(context.Background(), feed(llm.Chunk{Text: "partial"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Text).To(Equal("partial"))
	})

	It("returns the first chunk error", func() {
		boom := errors.New("boom")
		_, err := llm.Collect(context.Background(), feed(llm.Chunk{Text: "a"}, llm.Chunk{Err: boom}))
		Expect(err).To(MatchError(boom))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := llm.Collect(ctx, make(chan llm.Chunk))
		Expect(err).To(MatchError(context.Canceled))
	})
})
