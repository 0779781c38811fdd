package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive presentation session",
	Long: `Start an interactive session. Describe a topic to get an outline, confirm it
with /confirm, refine the slides in conversation and export them with /export.

Ctrl-C stops a reply that is still being generated. Type /help inside the
session for the full list of commands.

Examples:
  chatppt chat
  chatppt chat --resume
  chatppt chat --session 1c4b9f0e-...`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Bool("resume", false, "Continue the most recently updated session")
	chatCmd.Flags().String("session", "", "Continue a stored session by id")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	as, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer as.Close(context.Background())

	resume, _ := cmd.Flags().GetBool("resume")
	sessionID, _ := cmd.Flags().GetString("session")
	switch {
	case sessionID != "":
		if err := as.Machine.LoadSession(ctx, sessionID); err != nil {
			return err
		}
	case resume:
		if err := as.Machine.ResumeLatest(ctx); err != nil {
			return err
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT)
	defer signal.Stop(interrupt)

	r := &repl{conv: as.Machine, out: cmd.OutOrStdout(), interrupt: interrupt}
	return r.run(ctx, cmd.InOrStdin())
}
