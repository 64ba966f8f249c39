package hash_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/embeddings/hash"
	"github.com/papercomputeco/keepsake/pkg/vector"
)

var _ = Describe("Embedder", func() {
	var (
		ctx context.Context
		e   *hash.Embedder
	)

	BeforeEach(func() {
		ctx = context.Background()
		e = hash.NewEmbedder(64)
	})

	It("is deterministic", func() {
		a, err := e.Embed(ctx, "How do I reverse a list in Go?")
		Expect(err).NotTo(HaveOccurred())
		b, err := e.Embed(ctx, "how do i reverse a list in go")
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	It("produces unit vectors", func() {
		v, err := e.Embed(ctx, "the quick brown fox")
		Expect(err).NotTo(HaveOccurred())
		Expect(vector.CosineSimilarity(v, v)).To(BeNumerically("~", 1, 1e-5))
	})

	It("ranks overlapping text above unrelated text", func() {
		query, _ := e.Embed(ctx, "postgres connection pool settings")
		near, _ := e.Embed(ctx, "tuning the postgres connection pool")
		far, _ := e.Embed(ctx, "a recipe for banana bread")

		Expect(vector.CosineSimilarity(query, near)).To(BeNumerically(">", vector.CosineSimilarity(query, far)))
	})

	It("returns the zero vector for text without tokens", func() {
		v, err := e.Embed(ctx, "?!")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(HaveLen(64))
		Expect(v).To(HaveEach(BeZero()))
	})

	It("defaults its dimensions", func() {
		Expect(hash.NewEmbedder(0).Dimensions()).To(Equal(hash.DefaultDimensions))
	})
})
