// Package warmcmder provides the warm command for managing the canonical
// answers pinned in the response cache.
package warmcmder

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/keepsake/pkg/cache"
	"github.com/papercomputeco/keepsake/pkg/cliui"
	"github.com/papercomputeco/keepsake/pkg/dotdir"
	"github.com/papercomputeco/keepsake/pkg/utils"
)

const warmLongDesc string = `Manage the warm set of canonical cache answers.

The warm set lives in warm.json in the .keepsake/ directory. A server loads
it at start and picks up additions while running. Warm answers never
expire and are served whenever a prompt normalizes to the same text.
Removals take effect on the next server start.

Examples:
  keepsake warm list
  keepsake warm add "What are your opening hours?" "9am to 5pm, Monday to Friday."
  keepsake warm add "How do I reverse a slice in Go?" "slices.Reverse(s)" --category code
  keepsake warm remove "What are your opening hours?"`

const warmShortDesc string = "Manage canonical cache answers"

func NewWarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm",
		Short: warmShortDesc,
		Long:  warmLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRemoveCmd())

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List warm answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runList(cmd.OutOrStdout(), configDir)
		},
	}
}

func newAddCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "add <prompt> <answer>",
		Short: "Add or replace a warm answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runAdd(cmd.OutOrStdout(), configDir, args[0], args[1], category)
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", string(cache.CategoryQA), "Answer category (qa, code)")

	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <prompt>",
		Short: "Remove a warm answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runRemove(cmd.OutOrStdout(), configDir, args[0])
		},
	}
}

func runList(w io.Writer, configDir string) error {
	entries, err := dotdir.NewManager().LoadWarmSet(configDir)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No warm answers.")
		return nil
	}

	for _, e := range entries {
		fmt.Fprintf(w, "  %s %s\n",
			cliui.RoleStyle.Render("["+e.Category+"]"),
			cliui.KeyStyle.Render(e.Prompt),
		)
		fmt.Fprintf(w, "    %s\n", cliui.PreviewStyle.Render(utils.Truncate(e.Value, 96)))
	}
	return nil
}

func runAdd(w io.Writer, configDir, prompt, value, category string) error {
	if !cache.Category(category).Valid() {
		return fmt.Errorf("%w: %q", cache.ErrInvalidCategory, category)
	}
	if cache.Normalize(prompt) == "" {
		return fmt.Errorf("prompt %q is empty once normalized", prompt)
	}

	m := dotdir.NewManager()
	entries, err := m.LoadWarmSet(configDir)
	if err != nil {
		return err
	}

	entry := dotdir.WarmEntry{Prompt: prompt, Value: value, Category: category}
	if i := index(entries, prompt); i >= 0 {
		entries[i] = entry
	} else {
		entries = append(entries, entry)
	}

	if err := m.SaveWarmSet(entries, configDir); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Pinned %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(prompt))
	return nil
}

func runRemove(w io.Writer, configDir, prompt string) error {
	m := dotdir.NewManager()
	entries, err := m.LoadWarmSet(configDir)
	if err != nil {
		return err
	}

	i := index(entries, prompt)
	if i < 0 {
		return fmt.Errorf("no warm answer for %q", prompt)
	}

	if err := m.SaveWarmSet(slices.Delete(entries, i, i+1), configDir); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Removed %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(prompt))
	return nil
}

// index finds the entry whose prompt normalizes like prompt.
func index(entries []dotdir.WarmEntry, prompt string) int {
	norm := cache.Normalize(prompt)
	return slices.IndexFunc(entries, func(e dotdir.WarmEntry) bool {
		return cache.Normalize(e.Prompt) == norm
	})
}
