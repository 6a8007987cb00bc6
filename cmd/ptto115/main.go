package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information (set by ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// Global flags
	configPath string
	uploadDir  string
	logLevel   = levelFlag("")
	jsonLogs   bool

	// History flags
	historyLimit int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ptto115",
		Short: "Instant-upload files dropped into a directory",
		Long: `ptto115 watches an upload directory, waits until each file stops growing,
and hands it to a cloud drive's instant upload (upload by content hash).
Files the remote side accepts are deleted locally; hashes of files it does
not know yet are remembered and reused on the next round.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), false)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/ptto115/config.json)")
	rootCmd.PersistentFlags().StringVar(&uploadDir, "upload-dir", "", "Directory to watch (default: upload/ next to the binary)")
	rootCmd.PersistentFlags().Var(&logLevel, "log-level", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Emit JSON log lines")

	// Once command
	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single polling round and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), true)
		},
	}

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShow(cmd.OutOrStdout())
		},
	}
	configCmd.AddCommand(configShowCmd)

	// History command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent completed uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return historyShow(cmd.Context(), cmd.OutOrStdout(), historyLimit)
		},
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of uploads to show")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ptto115 version %s\n", version)
			if version != "dev" {
				fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
				fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
			}
		},
	}

	rootCmd.AddCommand(onceCmd, configCmd, historyCmd, versionCmd)
	return rootCmd
}
