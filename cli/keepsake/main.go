package main

import (
	"os"

	keepsakecmder "github.com/papercomputeco/keepsake/cmd/keepsake"
)

func main() {
	cmd := keepsakecmder.NewKeepsakeCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
