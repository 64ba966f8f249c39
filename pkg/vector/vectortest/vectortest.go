// Package vectortest holds the behaviors every vector.Driver must show,
// shared by the driver test suites. Vectors are four-dimensional.
package vectortest

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/vector"
)

// Dimensions of the vectors used by DriverBehaviors.
const Dimensions = 4

func item(id, chatID string, v ...float32) vector.Item {
	return vector.Item{
		ID:       id,
		Vector:   v,
		Content:  "content of " + id,
		Metadata: map[string]string{"user_id": "u1", "chat_id": chatID, "turn_id": id},
	}
}

func ids(matches []vector.Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.ID)
	}
	return out
}

// DriverBehaviors registers the shared specs. newDriver is called before
// each test; the returned driver is closed after it.
func DriverBehaviors(newDriver func() vector.Driver) {
	var (
		driver vector.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
		Expect(driver.Upsert(ctx, []vector.Item{
			item("a", "c1", 1, 0, 0, 0),
			item("b", "c1", 0, 1, 0, 0),
			item("c", "c2", 0.9, 0.1, 0, 0),
			item("d", "c2", 0, 0, 1, 0),
		})).To(Succeed())
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	It("gets items with content and metadata", func() {
		items, err := driver.Get(ctx, []string{"a", "missing"})
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
		Expect(items[0].ID).To(Equal("a"))
		Expect(items[0].Content).To(Equal("content of a"))
		Expect(items[0].Metadata).To(HaveKeyWithValue("chat_id", "c1"))
		Expect(items[0].Vector).To(HaveLen(Dimensions))
	})

	It("replaces an item on upsert", func() {
		updated := item("a", "c1", 1, 0, 0, 0)
		updated.Content = "rewritten"
		Expect(driver.Upsert(ctx, []vector.Item{updated})).To(Succeed())

		items, err := driver.Get(ctx, []string{"a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
		Expect(items[0].Content).To(Equal("rewritten"))
	})

	It("ranks by similarity", func() {
		matches, err := driver.Query(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, TopK: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(matches)).To(Equal([]string{"a", "c"}))
		Expect(matches[0].Score).To(BeNumerically(">=", matches[1].Score))
		Expect(matches[0].Score).To(BeNumerically(">", 0))
	})

	It("restricts similarity search by filter", func() {
		matches, err := driver.Query(ctx, vector.Query{
			Vector: []float32{1, 0, 0, 0},
			Filter: vector.Filter{"chat_id": "c2"},
			TopK:   4,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(matches)).To(Equal([]string{"c", "d"}))
	})

	It("answers filter-only queries", func() {
		matches, err := driver.Query(ctx, vector.Query{Filter: vector.Filter{"chat_id": "c1", "user_id": "u1"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(matches)).To(ConsistOf("a", "b"))
		for _, m := range matches {
			Expect(m.Score).To(BeZero())
			Expect(m.Metadata).To(HaveKeyWithValue("turn_id", m.ID))
		}

		none, err := driver.Query(ctx, vector.Query{Filter: vector.Filter{"chat_id": "nope"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(none).To(BeEmpty())
	})

	It("respects TopK", func() {
		matches, err := driver.Query(ctx, vector.Query{Vector: []float32{1, 0, 0, 0}, TopK: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(HaveLen(1))
	})

	It("rejects queries without a vector or filter", func() {
		_, err := driver.Query(ctx, vector.Query{TopK: 3})
		Expect(err).To(MatchError(vector.ErrInvalidQuery))
	})

	It("rejects oversized metadata", func() {
		big := item("e", "c1", 0, 0, 0, 1)
		big.Metadata["blob"] = strings.Repeat("x", vector.MaxMetadataBytes)
		Expect(driver.Upsert(ctx, []vector.Item{big})).To(MatchError(vector.ErrInvalidItem))
	})

	It("deletes items", func() {
		Expect(driver.Delete(ctx, []string{"a", "b"})).To(Succeed())
		items, err := driver.Get(ctx, []string{"a", "b", "c"})
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))

		matches, err := driver.Query(ctx, vector.Query{Filter: vector.Filter{"chat_id": "c1"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(BeEmpty())
	})
}
