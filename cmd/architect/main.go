// Package main provides the architect CLI, the shim dispatcher binary
// generated shim scripts invoke as "architect shim <tool> -- <args...>"
// (spec §4.8).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/env-architect/architect/internal/store"
	architectshim "github.com/env-architect/architect/internal/shim"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "architect",
		Short:        "architect - plugin-driven environment manager",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildShimCmd())
	return rootCmd
}

func buildShimCmd() *cobra.Command {
	var storeRoot string
	cmd := &cobra.Command{
		Use:                "shim <tool> -- [args...]",
		Short:              "Resolve and exec a declared project dependency from the content store",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			toolName := args[0]
			toolArgs := args[1:]

			startDir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("determine working directory: %w", err)
			}

			lf, err := loadLockfile(startDir)
			if err != nil {
				return fmt.Errorf("load lockfile: %w", err)
			}

			dispatcher := &architectshim.Dispatcher{
				Store:     store.New(storeRoot),
				Installed: lf,
			}

			code, err := dispatcher.Dispatch(context.Background(), startDir, toolName, toolArgs)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&storeRoot, "store-root", defaultStoreRoot(), "content-addressed store root directory")
	return cmd
}

func defaultStoreRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.architect/store"
	}
	return ".architect/store"
}
