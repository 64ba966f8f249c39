package qdrant_test

import (
	"context"
	"os"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keepsake/pkg/logger"
	"github.com/papercomputeco/keepsake/pkg/vector"
	"github.com/papercomputeco/keepsake/pkg/vector/qdrant"
	"github.com/papercomputeco/keepsake/pkg/vector/vectortest"
)

var _ = Describe("Driver", func() {
	It("validates its configuration", func() {
		_, err := qdrant.NewDriver(context.Background(), qdrant.Config{Dimensions: 4}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("host is required")))

		_, err = qdrant.NewDriver(context.Background(), qdrant.Config{Host: "localhost"}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("dimensions")))
	})

	Describe("against a live server", func() {
		BeforeEach(func() {
			if os.Getenv("KEEPSAKE_TEST_QDRANT_HOST") == "" {
				Skip("KEEPSAKE_TEST_QDRANT_HOST not set")
			}
		})

		vectortest.DriverBehaviors(func() vector.Driver {
			port, _ := strconv.Atoi(os.Getenv("KEEPSAKE_TEST_QDRANT_PORT"))
			d, err := qdrant.NewDriver(context.Background(), qdrant.Config{
				Host:           os.Getenv("KEEPSAKE_TEST_QDRANT_HOST"),
				Port:           port,
				CollectionName: "keepsake_test_" + strconv.FormatInt(GinkgoRandomSeed(), 10),
				Dimensions:     vectortest.Dimensions,
			}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Delete(context.Background(), []string{"a", "b", "c", "d", "e"})).To(Succeed())
			return d
		})
	})
})
