package inmemory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/blob/blobtest"
	"github.com/papercomputeco/keepsake/pkg/blob/inmemory"
)

var _ = Describe("Store", func() {
	blobtest.StoreBehaviors(func() blob.Store {
		return inmemory.NewStore()
	})

	It("lists objects by owner", func() {
		store := inmemory.NewStore()
		ctx := context.Background()
		_, err := store.Put(ctx, blob.Object{ID: "a", Owner: "u1", Data: []byte("1")})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Put(ctx, blob.Object{ID: "b", Owner: "u2", Data: []byte("2")})
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Owned("u1")).To(ConsistOf("mem://keepsake/u1/a"))
		Expect(store.Len()).To(Equal(2))
	})
})
