// Package keepsakecmder provides the root keepsake command.
package keepsakecmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/keepsake/cmd/keepsake/chat"
	configcmder "github.com/papercomputeco/keepsake/cmd/keepsake/config"
	initcmder "github.com/papercomputeco/keepsake/cmd/keepsake/init"
	recallcmder "github.com/papercomputeco/keepsake/cmd/keepsake/recall"
	servecmder "github.com/papercomputeco/keepsake/cmd/keepsake/serve"
	sessionscmder "github.com/papercomputeco/keepsake/cmd/keepsake/sessions"
	warmcmder "github.com/papercomputeco/keepsake/cmd/keepsake/warm"
	versioncmder "github.com/papercomputeco/keepsake/cmd/version"
)

const keepsakeLongDesc string = `Keepsake is a memory layer for chat assistants.

It keeps active conversations in memory, answers repeated questions from a
response cache, and persists every turn to a session store, an attachment
store and a vector store without making the user wait.

Run the server:
  keepsake serve

Talk to a running server:
  keepsake chat <user> <chat>      Send messages and stream answers
  keepsake sessions <user>         List and manage conversations
  keepsake recall <user> <query>   Search past turns by meaning`

const keepsakeShortDesc string = "Keepsake - memory for chat assistants"

func NewKeepsakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "keepsake",
		Short:        keepsakeShortDesc,
		Long:         keepsakeLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .keepsake/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(sessionscmder.NewSessionsCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(recallcmder.NewRecallCmd())
	cmd.AddCommand(warmcmder.NewWarmCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
