package utils

import (
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("truncate", func() {
	It("returns the string unchanged when within the limit", func() {
		Expect(Truncate("short", 10)).To(Equal("short"))
	})

	It("returns the string unchanged when exactly at the limit", func() {
		Expect(Truncate("12345", 5)).To(Equal("12345"))
	})

	It("truncates with ellipsis when over the limit", func() {
		result := Truncate("this is a long string", 10)
		Expect(result).To(Equal("this is a ..."))
	})

	It("flattens multi-line turn text onto one line", func() {
		Expect(Truncate("pack\n\n  the   tent\tfirst", 40)).To(Equal("pack the tent first"))
	})

	It("never splits a multi-byte rune", func() {
		result := Truncate("naïve café visit", 3)
		Expect(utf8.ValidString(result)).To(BeTrue())
		Expect(result).To(Equal("na..."))
	})
})
