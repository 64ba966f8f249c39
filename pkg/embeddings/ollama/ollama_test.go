package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/embeddings/ollama"
	"github.com/papercomputeco/keepsake/pkg/vector"
)

var _ = Describe("Embedder", func() {
	var (
		ctx    context.Context
		server *httptest.Server
		status int
		inputs []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		status = http.StatusOK
		inputs = nil

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/embed"))

			var req struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
			Expect(req.Model).To(Equal(ollama.DefaultEmbeddingModel))
			inputs = req.Input

			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte("boom"))
				return
			}

			embs := make([][]float32, len(req.Input))
			for i, in := range req.Input {
				embs[i] = []float32{float32(len(in)), 1}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embs})
		}))
		DeferCleanup(server.Close)
	})

	It("embeds a single text", func() {
		e := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		v, err := e.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal([]float32{5, 1}))
		Expect(inputs).To(Equal([]string{"hello"}))
	})

	It("embeds a batch in one request", func() {
		e := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		vs, err := e.EmbedBatch(ctx, []string{"a", "bbb"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vs).To(Equal([][]float32{{1, 1}, {3, 1}}))
	})

	It("marks server errors as upstream unavailable", func() {
		status = http.StatusServiceUnavailable
		e := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		_, err := e.Embed(ctx, "hello")
		Expect(errors.Is(err, vector.ErrEmbedding)).To(BeTrue())
		Expect(errors.Is(err, chat.ErrUpstreamUnavailable)).To(BeTrue())
	})

	It("does not mark client errors as unavailable", func() {
		status = http.StatusBadRequest
		e := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		_, err := e.Embed(ctx, "hello")
		Expect(errors.Is(err, vector.ErrEmbedding)).To(BeTrue())
		Expect(errors.Is(err, chat.ErrUpstreamUnavailable)).To(BeFalse())
	})
})
