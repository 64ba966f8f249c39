package sessionscmder

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keepsake/api/client"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/cliui"
	"github.com/papercomputeco/keepsake/pkg/queue"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs <user> <chat>",
		Short: "List a conversation's persistence jobs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return runJobs(ctx, cmd.OutOrStdout(), c, keyArgs(args))
		},
	}
	apiFlag(cmd)
	return cmd
}

func runJobs(ctx context.Context, w io.Writer, c *client.Client, key chat.Key) error {
	resp, err := c.Jobs(ctx, key)
	if err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Fprintf(w, "No persistence jobs for %s.\n", key.String())
		return nil
	}

	for _, j := range resp.Jobs {
		fmt.Fprintf(w, "  %s %s %s %s\n",
			jobBadge(j.State),
			cliui.KeyStyle.Render(string(j.Kind)),
			cliui.ValueStyle.Render(j.TargetID),
			cliui.DimStyle.Render(fmt.Sprintf("%s after %d attempt(s)", j.State, j.Attempts)),
		)
		if j.LastError != "" {
			fmt.Fprintf(w, "    %s\n", cliui.DimStyle.Render(j.LastError))
		}
	}

	return nil
}

func jobBadge(s queue.State) string {
	switch s {
	case queue.StateSucceeded:
		return cliui.SuccessMark
	case queue.StateFailed:
		return cliui.FailMark
	default:
		return cliui.Durability(chat.DurabilityPending)
	}
}
