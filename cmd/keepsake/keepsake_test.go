package keepsakecmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	keepsakecmder "github.com/papercomputeco/keepsake/cmd/keepsake"
)

var _ = Describe("NewKeepsakeCmd", func() {
	It("registers every subcommand", func() {
		cmd := keepsakecmder.NewKeepsakeCmd()
		names := make([]string, 0)
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("serve", "init", "config", "sessions", "chat", "recall", "warm", "version"))
	})

	It("carries the global flags", func() {
		cmd := keepsakecmder.NewKeepsakeCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})
