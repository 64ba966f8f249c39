// Package blobtest holds behaviors every blob.Store must satisfy.
package blobtest

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/chat"
)

// StoreBehaviors registers the shared blob.Store specs. newStore is called
// before each test.
func StoreBehaviors(newStore func() blob.Store) {
	var (
		ctx   context.Context
		store blob.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
		DeferCleanup(store.Close)
	})

	It("returns a URL that round-trips the payload", func() {
		url, err := store.Put(ctx, blob.Object{ID: "att-1", Owner: "user-1", ContentType: "image/png", Data: []byte("png-bytes")})
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(ContainSubstring("att-1.png"))

		data, contentType, err := store.Get(ctx, url)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("png-bytes"))
		Expect(contentType).To(Equal("image/png"))
	})

	It("returns the same URL when the same object is put twice", func() {
		o := blob.Object{ID: "att-2", Owner: "user-1", ContentType: "text/plain", Data: []byte("v1")}
		first, err := store.Put(ctx, o)
		Expect(err).NotTo(HaveOccurred())

		o.Data = []byte("v2")
		second, err := store.Put(ctx, o)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))

		data, _, err := store.Get(ctx, second)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("v2"))
	})

	It("reports missing objects as not found after delete", func() {
		url, err := store.Put(ctx, blob.Object{ID: "att-3", ContentType: "image/jpeg", Data: []byte("jpg")})
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Delete(ctx, url)).To(Succeed())
		Expect(store.Delete(ctx, url)).To(Succeed())

		_, _, err = store.Get(ctx, url)
		Expect(errors.Is(err, chat.ErrNotFound)).To(BeTrue())
	})

	It("rejects objects without data", func() {
		_, err := store.Put(ctx, blob.Object{ID: "att-4", ContentType: "image/png"})
		Expect(err).To(HaveOccurred())
	})
}
