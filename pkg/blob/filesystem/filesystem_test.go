package filesystem_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/blob/blobtest"
	"github.com/papercomputeco/keepsake/pkg/blob/filesystem"
)

var _ = Describe("Store", func() {
	blobtest.StoreBehaviors(func() blob.Store {
		store, err := filesystem.NewStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		return store
	})

	It("writes objects beneath the root", func() {
		root := GinkgoT().TempDir()
		store, err := filesystem.NewStore(root)
		Expect(err).NotTo(HaveOccurred())

		url, err := store.Put(context.Background(), blob.Object{ID: "att", Owner: "u1", ContentType: "image/png", Data: []byte("x")})
		Expect(err).NotTo(HaveOccurred())
		Expect(url).To(Equal("file://" + filepath.ToSlash(filepath.Join(store.Root(), "u1", "att.png"))))
	})

	It("refuses URLs outside the root", func() {
		store, err := filesystem.NewStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		_, _, err = store.Get(context.Background(), "file:///etc/passwd")
		Expect(err).To(MatchError(ContainSubstring("outside")))
	})
})
