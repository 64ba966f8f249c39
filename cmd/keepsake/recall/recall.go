// Package recallcmder provides the recall command for semantic search over a
// user's past turns.
package recallcmder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keepsake/api/client"
	"github.com/papercomputeco/keepsake/pkg/cliui"
	"github.com/papercomputeco/keepsake/pkg/config"
	"github.com/papercomputeco/keepsake/pkg/utils"
)

const requestTimeout = 30 * time.Second

type recallCommander struct {
	userID string
	query  string
	topK   int
	quiet  bool

	client *client.Client
}

const recallLongDesc string = `Search a user's past turns by meaning via the keepsake API.

Recall embeds the query and searches the vector store across all of the
user's conversations. Requires a running keepsake server with a vector store
configured.

Use --quiet to print only "<chat id> <turn id>" pairs, one per line.

Examples:
  keepsake recall alice "where did we decide to travel"
  keepsake recall alice "packing list" --top 10
  keepsake recall alice "budget" --quiet`

const recallShortDesc string = "Search past turns by meaning"

func NewRecallCmd() *cobra.Command {
	cmder := &recallCommander{}

	cmd := &cobra.Command{
		Use:   "recall <user> <query>",
		Short: recallShortDesc,
		Long:  recallLongDesc,
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			target, err := config.ResolveAPITarget(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cmder.client = client.New(target, &http.Client{})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.userID = args[0]
			cmder.query = args[1]

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return cmder.run(ctx, cmd.OutOrStdout())
		},
	}

	var target string
	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &target)
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only chat and turn ids, one pair per line")

	return cmd
}

func (c *recallCommander) run(ctx context.Context, w io.Writer) error {
	resp, err := c.client.Recall(ctx, c.userID, c.query, c.topK)
	if err != nil {
		return err
	}

	if resp.Count == 0 {
		if !c.quiet {
			fmt.Fprintln(w, "No memories found.")
		}
		return nil
	}

	if c.quiet {
		for _, m := range resp.Memories {
			fmt.Fprintf(w, "%s %s\n", m.Turn.ChatID, m.Turn.ID)
		}
		return nil
	}

	fmt.Fprintf(w, "\n  %s %s\n\n",
		cliui.HeaderStyle.Render(fmt.Sprintf("Recall: %q", c.query)),
		cliui.DimStyle.Render(fmt.Sprintf("(%d)", resp.Count)),
	)

	for i, m := range resp.Memories {
		fmt.Fprintf(w, "  %s %s %s %s\n",
			cliui.KeyStyle.Render(fmt.Sprintf("%d.", i+1)),
			cliui.ValueStyle.Render(m.Turn.ChatID),
			cliui.RoleStyle.Render("["+string(m.Turn.Role)+"]"),
			cliui.ScoreStyle.Render(fmt.Sprintf("score %.3f", m.Score)),
		)
		fmt.Fprintf(w, "     %s\n", cliui.PreviewStyle.Render(utils.Truncate(m.Turn.Text, 96)))
	}
	fmt.Fprintln(w)

	return nil
}
