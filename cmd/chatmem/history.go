package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/chatmem/internal/memory"
)

const timeLayout = "2006-01-02 15:04:05"

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <role> [content]",
		Short: "Append a turn (role: user, model or system); content is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := memory.ParseRole(args[0])
			if err != nil {
				return err
			}

			var content string
			if len(args) == 2 {
				content = args[1]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				content = strings.TrimRight(string(raw), "\n")
			}

			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			msg, err := rt.Store.AddMessage(cmd.Context(), role, content)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added message %d\n", msg.ID)
			return nil
		},
	}
	addJSONFlag(cmd)
	return cmd
}

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the assembled context: latest summary plus recent turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 0 {
				return errors.New("--limit must be non-negative")
			}

			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			entries, err := rt.Store.GetContext(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "(no messages)")
				return nil
			}
			for _, e := range entries {
				label := string(e.Role)
				if e.IsSummary {
					label = "summary"
				}
				fmt.Fprintf(out, "%s [%s] %s\n", e.Timestamp.Local().Format(timeLayout), label, e.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "Maximum raw turns (0 = configured window)")
	addJSONFlag(cmd)
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Case-insensitive substring search over turns and summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			hits, err := rt.Store.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), hits)
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, h := range hits {
				ref := fmt.Sprintf("message %d", h.ID)
				if h.Origin == memory.OriginSummary {
					ref = fmt.Sprintf("summary %d (messages %d-%d)", h.ID, h.StartMessageID, h.EndMessageID)
				}
				fmt.Fprintf(out, "%s  %s\n    %s\n", h.Timestamp.Local().Format(timeLayout), ref, h.Content)
			}
			return nil
		},
	}
	addJSONFlag(cmd)
	return cmd
}

func summariesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List stored summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			list, err := rt.Store.Summaries(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), list)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no summaries")
				return nil
			}
			for _, s := range list {
				fmt.Fprintf(out, "#%d messages %d-%d (%s)\n    %s\n",
					s.ID, s.StartMessageID, s.EndMessageID, s.Timestamp.Local().Format(timeLayout), s.Content)
			}
			return nil
		},
	}
	addJSONFlag(cmd)
	return cmd
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run the retention policy now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			res, err := rt.Store.Compact(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Compressed {
				fmt.Fprintln(out, "nothing to compress")
				return nil
			}
			fmt.Fprintf(out, "summary %d covers messages %d-%d", res.Summary.ID, res.Summary.StartMessageID, res.Summary.EndMessageID)
			if res.Pruned > 0 {
				fmt.Fprintf(out, ", pruned %d", res.Pruned)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func addJSONFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Print JSON")
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether stdin is interactive.
func isTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
