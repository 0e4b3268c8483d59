package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rownak/internal/app"
	"rownak/pkg/config"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	var (
		cfgPath   string
		backend   string
		storeURL  string
		debugAddr string
	)

	root := &cobra.Command{
		Use:          "rownak",
		Short:        "terminal chat client",
		Version:      fmt.Sprintf("%s (%s) @ %s", version, commit, buildDate),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ResolveConfigPath(cfgPath, cmd.Flags().Changed("config"))
			cfg, err := config.LoadEffective(path)
			if err != nil {
				return err
			}
			// flags win over file and env
			if cmd.Flags().Changed("backend") {
				cfg.Store.Backend = backend
			}
			if cmd.Flags().Changed("store-url") {
				cfg.Store.URL = storeURL
			}
			if cmd.Flags().Changed("debug-addr") {
				cfg.Debug.Addr = debugAddr
			}

			a, err := app.New(cfg, version, commit, buildDate)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "rownak.yaml", "config file path")
	root.Flags().StringVar(&backend, "backend", "", "store backend: memory, pebble or remote")
	root.Flags().StringVar(&storeURL, "store-url", "", "websocket url for the remote backend")
	root.Flags().StringVar(&debugAddr, "debug-addr", "", "local debug listener address")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "rownak: %v\n", err)
		os.Exit(1)
	}
}
