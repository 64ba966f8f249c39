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

func newShowCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <user> <chat>",
		Short: "Show a conversation's turns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return runShow(ctx, cmd.OutOrStdout(), c, keyArgs(args), full)
		},
	}
	apiFlag(cmd)
	cmd.Flags().BoolVar(&full, "full", false, "Print full turn text instead of previews")
	return cmd
}

func runShow(ctx context.Context, w io.Writer, c *client.Client, key chat.Key, full bool) error {
	conv, err := c.Load(ctx, key)
	if err != nil {
		return err
	}

	if len(conv.Turns) == 0 {
		fmt.Fprintf(w, "No turns in %s.\n", key.String())
		return nil
	}

	fmt.Fprintf(w, "\n  %s", cliui.HeaderStyle.Render(key.String()))
	if s := conv.Session; s != nil {
		fmt.Fprintf(w, "  %s", cliui.RoleStyle.Render("["+string(s.Status)+"]"))
		if s.Title != "" {
			fmt.Fprintf(w, "  %s", cliui.PreviewStyle.Render(s.Title))
		}
	}
	fmt.Fprint(w, "\n")
	if conv.Recovered > 0 {
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render(fmt.Sprintf("%d turn(s) recovered from the vector store", conv.Recovered)))
	}
	fmt.Fprintln(w)

	for i, t := range conv.Turns {
		text := t.Text
		if !full {
			text = utils.Truncate(text, 72)
		}
		fmt.Fprintf(w, "  %s %s %s %s\n",
			cliui.DimStyle.Render(fmt.Sprintf("%d.", i+1)),
			cliui.Durability(t.Durability),
			cliui.RoleStyle.Render("["+string(t.Role)+"]"),
			cliui.PreviewStyle.Render(text),
		)
		if n := len(t.Attachments); n > 0 {
			fmt.Fprintf(w, "       %s\n", cliui.DimStyle.Render(fmt.Sprintf("%d attachment(s)", n)))
		}
	}
	fmt.Fprintln(w)

	return nil
}
