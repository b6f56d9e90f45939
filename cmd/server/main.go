package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/storeapi/internal/config"
	"github.com/harrylevesque/storeapi/internal/server"
	"github.com/harrylevesque/storeapi/internal/utils"
)

func newRootCmd() *cobra.Command {
	v := config.New()
	var envFiles []string

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Users and products REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadEnvFiles(envFiles...)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := utils.NewLogger(utils.LogConfig{Level: cfg.LogLevel, File: cfg.LogFile})
			return server.New(cfg, logger, server.Options{}).Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default .env, .env.local)")
	flags.String("port", config.DefaultServerPort, "HTTP port")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-file", "", "write logs to this file with rotation instead of stderr")
	cobra.CheckErr(v.BindPFlag("SERVER_PORT", flags.Lookup("port")))
	cobra.CheckErr(v.BindPFlag("LOG_LEVEL", flags.Lookup("log-level")))
	cobra.CheckErr(v.BindPFlag("LOG_FILE", flags.Lookup("log-file")))
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
