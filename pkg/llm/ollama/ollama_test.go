package ollama_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/llm"
	"github.com/papercomputeco/keepsake/pkg/llm/ollama"
)

var _ = Describe("Generator", func() {
	var (
		server   *httptest.Server
		received map[string]any
		handler  http.HandlerFunc
	)

	BeforeEach(func() {
		received = nil
		handler = func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/chat"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("streams chunks and sends summary, history and prompt", func() {
		g := ollama.NewGenerator(ollama.GeneratorConfig{BaseURL: server.URL, Model: "test-model"})
		defer g.Close()

		ch, err := g.Generate(context.Background(), &llm.PromptContext{
			Summary:  "user likes go",
			Messages: []llm.Message{{Role: chat.RoleUser, Text: "earlier"}, {Role: chat.RoleAssistant, Text: "reply"}},
			Prompt:   "now",
		})
		Expect(err).NotTo(HaveOccurred())

		res, err := llm.Collect(context.Background(), ch)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Text).To(Equal("Hello"))

		Expect(received["model"]).To(Equal("test-model"))
		Expect(received["stream"]).To(BeTrue())
		msgs := received["messages"].([]any)
		Expect(msgs).To(HaveLen(4))
		Expect(msgs[0].(map[string]any)["role"]).To(Equal("system"))
		Expect(msgs[0].(map[string]any)["content"]).To(ContainSubstring("user likes go"))
		Expect(msgs[3].(map[string]any)["content"]).To(Equal("now"))
	})

	It("attaches inline images to the prompt", func() {
		g := ollama.NewGenerator(ollama.GeneratorConfig{BaseURL: server.URL})
		ch, err := g.Generate(context.Background(), &llm.PromptContext{
			Prompt:      "what is this",
			Attachments: []chat.AttachmentRef{chat.Inline("img", "image/png", []byte{1, 2, 3})},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = llm.Collect(context.Background(), ch)
		Expect(err).NotTo(HaveOccurred())

		msgs := received["messages"].([]any)
		Expect(msgs[0].(map[string]any)["images"]).To(ConsistOf("AQID"))
	})

	It("rejects an empty prompt without calling the server", func() {
		g := ollama.NewGenerator(ollama.GeneratorConfig{BaseURL: server.URL})
		_, err := g.Generate(context.Background(), &llm.PromptContext{})
		Expect(err).To(MatchError(llm.ErrEmptyPrompt))
		Expect(received).To(BeNil())
	})

	It("maps server errors to upstream unavailable", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}
		g := ollama.NewGenerator(ollama.GeneratorConfig{BaseURL: server.URL})
		_, err := g.Generate(context.Background(), &llm.PromptContext{Prompt: "hi"})
		Expect(err).To(MatchError(chat.ErrUpstreamUnavailable))
	})

	It("maps an unreachable host to upstream unavailable", func() {
		addr := server.URL
		server.Close()
		g := ollama.NewGenerator(ollama.GeneratorConfig{BaseURL: addr})
		_, err := g.Generate(context.Background(), &llm.PromptContext{Prompt: "hi"})
		Expect(err).To(MatchError(chat.ErrUpstreamUnavailable))
	})

	It("reports a stream that ends without a done marker", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"cut"},"done":false}`)
		}
		g := ollama.NewGenerator(ollama.GeneratorConfig{BaseURL: server.URL})
		ch, err := g.Generate(context.Background(), &llm.PromptContext{Prompt: "hi"})
		Expect(err).NotTo(HaveOccurred())
		_, err = llm.Collect(context.Background(), ch)
		Expect(err).To(MatchError(chat.ErrUpstreamUnavailable))
	})
})
