package cmds

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/gateway"
)

func newAskCommand(g *Globals) *cobra.Command {
	var (
		chatID    string
		stateless bool
		copyOut   bool
		render    bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a question about the uploaded documents",
		Long: "Ask a question. Without --chat a new chat is created for the exchange; " +
			"--stateless asks without recording a chat at all.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := g.Gateway()
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")

			var resp *gateway.AskResponse
			if stateless {
				if chatID != "" {
					return errors.New("--stateless and --chat are mutually exclusive")
				}
				resp, err = gw.Ask(cmd.Context(), question)
			} else {
				resp, err = gw.AskWithChat(cmd.Context(), question, chatID)
			}
			if err != nil {
				return err
			}

			answer := resp.Answer
			if render {
				answer = renderMarkdown(answer)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), answer)
			if resp.ChatID != "" && resp.ChatID != chatID {
				printNotice(cmd.ErrOrStderr(), "chat %s", resp.ChatID)
			}

			if copyOut {
				if err := clipboard.WriteAll(resp.Answer); err != nil {
					log.Warn().Err(err).Msg("could not copy answer to clipboard")
				} else {
					printNotice(cmd.ErrOrStderr(), "answer copied to clipboard")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Continue the chat with this id")
	cmd.Flags().BoolVar(&stateless, "stateless", false, "Ask without recording a chat")
	cmd.Flags().BoolVar(&copyOut, "copy", false, "Copy the answer to the clipboard")
	cmd.Flags().BoolVar(&render, "render", stdoutIsTerminal(), "Render the answer as markdown")
	return cmd
}
