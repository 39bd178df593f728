package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/chatmem/internal/memory"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
	}
	cmd.AddCommand(sessionNewCmd(), sessionListCmd(), sessionRenameCmd(), sessionTouchCmd(), sessionDeleteCmd())
	return cmd
}

func sessionNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			title, _ := cmd.Flags().GetString("title")
			interactive, _ := cmd.Flags().GetBool("interactive")
			if interactive {
				if err := huh.NewInput().
					Title("Session title").
					Placeholder(memory.DefaultSessionTitle).
					Value(&title).
					Run(); err != nil {
					return err
				}
			}

			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			sess, err := rt.Store.CreateSession(cmd.Context(), strings.TrimSpace(title))
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), sess)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sess.ID, sess.Title)
			return nil
		},
	}
	cmd.Flags().StringP("title", "t", "", "Session title (default \""+memory.DefaultSessionTitle+"\")")
	cmd.Flags().BoolP("interactive", "i", false, "Prompt for the title")
	addJSONFlag(cmd)
	return cmd
}

func sessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			sessions, err := rt.Store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			out := cmd.OutOrStdout()
			for _, s := range sessions {
				fmt.Fprintf(out, "%-36s  %s  %s\n", s.ID, s.LastUpdated.Local().Format(timeLayout), s.Title)
			}
			return nil
		},
	}
	addJSONFlag(cmd)
	return cmd
}

func sessionRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return rt.Store.RenameSession(cmd.Context(), args[0], args[1])
		},
	}
}

func sessionTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <id>",
		Short: "Mark a session as recently used",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return rt.Store.TouchSession(cmd.Context(), args[0])
		},
	}
}

func sessionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session (messages are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				if !isTerminal() {
					return errors.New("refusing to delete without --yes on a non-interactive terminal")
				}
				if err := huh.NewConfirm().
					Title(fmt.Sprintf("Delete session %s?", args[0])).
					Affirmative("Delete").
					Negative("Cancel").
					Value(&yes).
					Run(); err != nil {
					return err
				}
				if !yes {
					return nil
				}
			}

			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return rt.Store.DeleteSession(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Skip confirmation")
	return cmd
}
