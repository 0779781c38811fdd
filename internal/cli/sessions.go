package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"history"},
	Short:   "Manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		as, err := loadApp(context.Background())
		if err != nil {
			return err
		}
		defer as.Close(context.Background())

		entries, err := as.SessionService.List(context.Background())
		if err != nil {
			return err
		}
		renderSessions(cmd.OutOrStdout(), entries)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		as, err := loadApp(context.Background())
		if err != nil {
			return err
		}
		defer as.Close(context.Background())

		if err := as.SessionService.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "Rename a stored session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		as, err := loadApp(context.Background())
		if err != nil {
			return err
		}
		defer as.Close(context.Background())

		session, err := as.SessionService.Rename(context.Background(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", session.ID, session.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd, sessionsRenameCmd)
}
