package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/cmd/docchat/cmds"
)

var globals = &cmds.Globals{}

var rootCmd = &cobra.Command{
	Use:          "docchat",
	Short:        "docchat talks to a document-chat service over HTTP and its realtime channel",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags are parsed now, so the logger can honour --log-level and co
		return globals.InitLogger()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	globals.AddFlags(rootCmd.PersistentFlags())
	cmds.Register(rootCmd, globals)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
