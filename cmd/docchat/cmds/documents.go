package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/chatsession"
)

func newDocumentsCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List, upload and delete documents",
	}

	list, err := NewDocumentsListCommand(g)
	cobra.CheckErr(err)

	upload := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload PDF documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := g.Gateway()
			if err != nil {
				return err
			}
			docs := chatsession.NewDocuments(gw)
			var failed error
			for _, path := range args {
				doc, err := docs.Upload(cmd.Context(), path)
				if err != nil {
					printError(cmd.ErrOrStderr(), errors.Wrap(err, path))
					failed = err
					continue
				}
				printNotice(cmd.ErrOrStderr(), "uploaded %s (%d bytes)", doc.Filename, doc.Size)
			}
			return failed
		},
	}

	var yes bool
	remove := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := confirm(fmt.Sprintf("Delete document %s?", args[0]))
				if err != nil || !ok {
					return err
				}
			}
			gw, err := g.Gateway()
			if err != nil {
				return err
			}
			return chatsession.NewDocuments(gw).Remove(cmd.Context(), args[0])
		},
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	cmd.AddCommand(buildTableCommand(list), upload, remove)
	return cmd
}
