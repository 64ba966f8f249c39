// Package chatcmder provides the chat command for an interactive
// conversation with a running keepsake server.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/keepsake/api"
	"github.com/papercomputeco/keepsake/api/client"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/cliui"
	"github.com/papercomputeco/keepsake/pkg/config"
	"github.com/papercomputeco/keepsake/pkg/logger"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type chatCommander struct {
	key      chat.Key
	markdown bool
	trace    bool
	debug    bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	client *client.Client
	logger *slog.Logger

	// pending attachments go out with the next message.
	pending []api.AttachmentInput
}

const chatLongDesc string = `Start an interactive conversation through a running keepsake server.

Answers stream back as they are generated. Repeated questions may be
answered from the response cache, which is marked after the answer. Press
Ctrl+C while an answer streams to abort it; the partial answer is discarded
and the conversation stays as it was.

Commands inside the session:
  /attach <path>   Attach a file to the next message
  /save            Flush the conversation to the stores now
  /end             End the conversation and exit
  /exit            Exit without ending the conversation (or Ctrl+D)

Examples:
  keepsake chat alice trip-planning
  keepsake chat alice trip-planning --api-target http://localhost:8081
  keepsake chat alice trip-planning --markdown=false`

const chatShortDesc string = "Interactive conversation with a keepsake server"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat <user> <chat>",
		Short: chatShortDesc,
		Long:  chatLongDesc,
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
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			if !cmd.Flags().Changed("markdown") {
				cmder.markdown = isTerminal(cmd.OutOrStdout())
			}

			cmder.key = chat.Key{UserID: args[0], ChatID: args[1]}
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			return cmder.run(cmd.Context())
		},
	}

	var target string
	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &target)
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Render answers as markdown (default: on when stdout is a terminal)")
	cmd.Flags().BoolVar(&cmder.trace, "trace", false, "Print the raw answer event stream to stderr")

	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *chatCommander) run(ctx context.Context) error {
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithWriter(c.errOut), logger.WithComponent("chat"))
	if c.trace {
		c.client.Trace = c.errOut
	}

	if err := c.printHistory(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			done, err := c.command(ctx, input)
			if err != nil {
				fmt.Fprintf(c.errOut, "  %s %v\n", cliui.FailMark, err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := c.send(ctx, input); err != nil {
			fmt.Fprintf(c.errOut, "\n  %s %v\n", cliui.FailMark, describe(err))
		}
		fmt.Fprintln(c.out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

func (c *chatCommander) printHistory(ctx context.Context) error {
	conv, err := c.client.Load(ctx, c.key)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	fmt.Fprintln(c.out)
	if len(conv.Turns) == 0 {
		fmt.Fprintf(c.out, "  %s New conversation %s\n", cliui.DimStyle.Render("●"), cliui.ValueStyle.Render(c.key.String()))
		return nil
	}

	fmt.Fprintf(c.out, "  %s Resuming %s %s\n",
		cliui.SuccessMark,
		cliui.ValueStyle.Render(c.key.String()),
		cliui.DimStyle.Render(fmt.Sprintf("(%d turns)", len(conv.Turns))),
	)
	return nil
}

// command handles a slash command. done reports whether the session ends.
func (c *chatCommander) command(ctx context.Context, input string) (done bool, err error) {
	name, arg, _ := strings.Cut(input, " ")
	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/end":
		if err := c.client.End(ctx, c.key); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "  %s Ended %s\n", cliui.SuccessMark, c.key.String())
		return true, nil
	case "/save":
		if err := c.client.Save(ctx, c.key); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "  %s Saving %s\n", cliui.SuccessMark, c.key.String())
		return false, nil
	case "/attach":
		a, err := readAttachment(strings.TrimSpace(arg))
		if err != nil {
			return false, err
		}
		c.pending = append(c.pending, a)
		fmt.Fprintf(c.out, "  %s Attached %s %s\n",
			cliui.SuccessMark,
			cliui.ValueStyle.Render(a.ID),
			cliui.DimStyle.Render(fmt.Sprintf("(%s, %d bytes)", a.ContentType, len(a.Data))),
		)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
}

// send posts one message. Ctrl+C aborts only the answer in flight.
func (c *chatCommander) send(ctx context.Context, prompt string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	req := api.MessageRequest{Prompt: prompt, Attachments: c.pending}
	c.logger.Debug("sending message",
		"session", c.key.String(),
		"attachments", len(req.Attachments),
	)

	var (
		resp *api.MessageResponse
		err  error
	)
	if c.markdown {
		err = cliui.Step(c.out, "thinking", func() error {
			resp, err = c.client.Send(ctx, c.key, req, nil)
			return err
		})
		if err == nil {
			rendered, rerr := cliui.RenderMarkdown(resp.Assistant.Text)
			if rerr != nil {
				c.logger.Debug("markdown rendering failed", "error", rerr)
			}
			fmt.Fprint(c.out, rendered)
		}
	} else {
		fmt.Fprint(c.out, assistantPrompt)
		resp, err = c.client.Send(ctx, c.key, req, func(text string) {
			fmt.Fprint(c.out, text)
		})
		fmt.Fprintln(c.out)
	}
	if err != nil {
		return err
	}

	c.pending = nil
	c.printFooter(resp)
	return nil
}

func (c *chatCommander) printFooter(resp *api.MessageResponse) {
	var notes []string
	if resp.Cached {
		notes = append(notes, "answered from cache")
	}
	if resp.Summarized > 0 {
		notes = append(notes, fmt.Sprintf("%d older turn(s) summarized", resp.Summarized))
	}
	if len(notes) == 0 {
		return
	}
	fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render("("+strings.Join(notes, ", ")+")"))
}

// describe turns API failures into a line for the user.
func describe(err error) string {
	switch {
	case errors.Is(err, chat.ErrLockConflict):
		return "another message is still being answered in this conversation, try again shortly"
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		return "the model is unavailable, nothing was saved"
	case errors.Is(err, chat.ErrAborted), errors.Is(err, context.Canceled):
		return "answer aborted"
	default:
		return err.Error()
	}
}
