// Package sessionscmder provides the sessions command for inspecting and
// managing conversations held by a running keepsake server.
package sessionscmder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keepsake/api/client"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/cliui"
	"github.com/papercomputeco/keepsake/pkg/config"
)

const requestTimeout = 30 * time.Second

const sessionsLongDesc string = `Inspect and manage conversations via the keepsake API.

Conversations are identified by a user id and a chat id. Reads merge the
in-memory buffer with the session, attachment and vector stores, so a
conversation is visible before it has been persisted.

Examples:
  keepsake sessions list alice
  keepsake sessions show alice chat-1
  keepsake sessions save alice chat-1
  keepsake sessions end alice chat-1
  keepsake sessions jobs alice chat-1
  keepsake sessions retry alice chat-1
  keepsake sessions delete alice chat-1`

const sessionsShortDesc string = "Inspect and manage conversations"

func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: sessionsShortDesc,
		Long:  sessionsLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newActionCmd("save", "Flush buffered turns to the stores now", save))
	cmd.AddCommand(newActionCmd("end", "End a conversation and flush it", end))
	cmd.AddCommand(newActionCmd("retry", "Re-enqueue failed persistence jobs", retry))
	cmd.AddCommand(newActionCmd("delete", "Delete a conversation from every tier", remove))

	return cmd
}

// apiFlag registers --api-target on cmd.
func apiFlag(cmd *cobra.Command) {
	var target string
	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &target)
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	target, err := config.ResolveAPITarget(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return client.New(target, &http.Client{}), nil
}

func keyArgs(args []string) chat.Key {
	return chat.Key{UserID: args[0], ChatID: args[1]}
}

type action func(ctx context.Context, w io.Writer, c *client.Client, key chat.Key) error

func newActionCmd(name, short string, fn action) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name + " <user> <chat>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return fn(ctx, cmd.OutOrStdout(), c, keyArgs(args))
		},
	}
	apiFlag(cmd)
	return cmd
}

func save(ctx context.Context, w io.Writer, c *client.Client, key chat.Key) error {
	if err := c.Save(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s Saving %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(key.String()))
	return nil
}

func end(ctx context.Context, w io.Writer, c *client.Client, key chat.Key) error {
	if err := c.End(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s Ended %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(key.String()))
	return nil
}

func retry(ctx context.Context, w io.Writer, c *client.Client, key chat.Key) error {
	n, err := c.Retry(ctx, key)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintf(w, "  %s No failed jobs for %s\n", cliui.DimStyle.Render("●"), key.String())
		return nil
	}
	fmt.Fprintf(w, "  %s Retried %d job(s) for %s\n", cliui.SuccessMark, n, cliui.ValueStyle.Render(key.String()))
	return nil
}

func remove(ctx context.Context, w io.Writer, c *client.Client, key chat.Key) error {
	if err := c.Delete(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s Deleted %s\n", cliui.SuccessMark, cliui.ValueStyle.Render(key.String()))
	return nil
}
