// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command sse-plugin serves the plugin's functions over gRPC, HTTP or an
// Arrow IPC stream.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/Query-farm/sse-plugin/internal/config"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "sse-plugin",
		Short:         "Server-side extension plugin",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			opts.cfg = cfg
			slog.SetDefault(newLogger(cfg))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("SSE_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	addCommands(root, opts)
	return root
}

// newLogger builds the process logger. Logs go to stderr so that stdout stays
// free for the stdio transport.
func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}
