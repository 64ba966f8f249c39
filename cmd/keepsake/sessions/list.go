package sessionscmder

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keepsake/api/client"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/cliui"
	"github.com/papercomputeco/keepsake/pkg/utils"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <user>",
		Short: "List a user's conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return runList(ctx, cmd.OutOrStdout(), c, args[0])
		},
	}
	apiFlag(cmd)
	return cmd
}

func runList(ctx context.Context, w io.Writer, c *client.Client, userID string) error {
	resp, err := c.Sessions(ctx, userID)
	if err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Fprintf(w, "No conversations for %s.\n", userID)
		return nil
	}

	fmt.Fprintf(w, "\n  %s %s\n\n",
		cliui.HeaderStyle.Render("Conversations for "+userID),
		cliui.DimStyle.Render(fmt.Sprintf("(%d)", resp.Count)),
	)

	for _, s := range resp.Sessions {
		fmt.Fprintf(w, "  %s %s  %s  %s\n",
			sessionBadge(s),
			cliui.ValueStyle.Render(s.ChatID),
			cliui.RoleStyle.Render(fmt.Sprintf("[%s] %d turns", s.Status, s.TurnCount)),
			cliui.DimStyle.Render(s.LastActivity.Local().Format("2006-01-02 15:04")),
		)
		if s.Title != "" {
			fmt.Fprintf(w, "    %s\n", cliui.PreviewStyle.Render(utils.Truncate(s.Title, 72)))
		}
		if n := len(s.FailedJobs); n > 0 {
			fmt.Fprintf(w, "    %s %d failed job(s), run keepsake sessions retry %s %s\n",
				cliui.FailMark, n, s.UserID, s.ChatID)
		}
	}
	fmt.Fprintln(w)

	return nil
}

func sessionBadge(s *chat.Session) string {
	switch {
	case len(s.FailedJobs) > 0:
		return cliui.Durability(chat.DurabilityFailed)
	case s.PendingPersistence:
		return cliui.Durability(chat.DurabilityPending)
	default:
		return cliui.Durability(chat.DurabilityDurable)
	}
}
