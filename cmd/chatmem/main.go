// Package main is the entry point for the chatmem CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/chatmem/internal/config"
	"github.com/flemzord/chatmem/internal/core"
	"github.com/flemzord/chatmem/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatmem",
		Short:         "Bounded conversation history with automatic summarization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Persistent data directory (default $XDG_DATA_HOME/chatmem)")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(
		versionCmd(),
		serveCmd(),
		configCmd(),
		serviceCmd(),
		addCmd(),
		contextCmd(),
		searchCmd(),
		summariesCmd(),
		compactCmd(),
		sessionCmd(),
		mcpCmd(),
	)
	return root
}

// runParams collects the persistent flags.
func runParams(cmd *cobra.Command) (app.RunParams, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	rawLevel, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(rawLevel)); err != nil {
		return app.RunParams{}, fmt.Errorf("invalid --log-level %q: %w", rawLevel, err)
	}
	return app.RunParams{
		ConfigPath: cfgPath,
		Version:    version,
		DataDir:    dataDir,
		LogLevel:   level,
	}, nil
}

// openRuntime provisions the store for one-shot commands. Logs default to
// warnings so command output stays readable.
func openRuntime(cmd *cobra.Command) (*app.Runtime, error) {
	params, err := runParams(cmd)
	if err != nil {
		return nil, err
	}
	if !cmd.Flags().Changed("log-level") {
		params.LogLevel = slog.LevelWarn
	}
	return app.Open(cmd.Context(), params)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatmem %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run chatmem with all configured modules until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), params)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				params.ConfigPath = args[0]
			}
			if params.ConfigPath == "" {
				if params.ConfigPath, err = app.ResolveConfigPath(); err != nil {
					return err
				}
			}

			cfg, err := config.Load(params.ConfigPath)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			if !cmd.Flags().Changed("log-level") {
				params.LogLevel = slog.LevelWarn
			}
			rt, err := app.Open(cmd.Context(), params)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ids := config.Resolve(cfg)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			ctxCfg := rt.Store.Config()
			fmt.Fprintf(out, "Retention: keep %d raw, compress batches over %d, summarize timeout %s\n",
				ctxCfg.MaxActive, ctxCfg.CompressThreshold, ctxCfg.SummarizeTimeout)
			return nil
		},
	})
	return cmd
}
