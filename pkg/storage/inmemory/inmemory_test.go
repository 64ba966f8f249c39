package inmemory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/storage"
	"github.com/papercomputeco/keepsake/pkg/storage/inmemory"
	"github.com/papercomputeco/keepsake/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	storagetest.DriverBehaviors(func() storage.Driver {
		return inmemory.NewDriver()
	})

	It("hands out copies", func() {
		d := inmemory.NewDriver()
		s := storagetest.NewSession("u1", "c1", 0)
		Expect(d.PutSession(context.Background(), s)).To(Succeed())
		s.Title = "mutated"

		got, err := d.GetSession(context.Background(), s.Key())
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Title).To(Equal("chat c1"))
	})
})
