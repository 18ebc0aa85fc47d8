package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/franckalain/cropdoctor/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cropdoctor: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cropdoctor",
		Short: "Crop disease diagnosis client",
		Long: `cropdoctor captures crop photos, sends them to the disease detection service
and keeps a local history. Images taken offline are queued and processed once
the service is reachable again.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.GetConfigPath(), "Path to the JSON configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		return cfg, nil
	}
	cmd.AddCommand(
		newServeCmd(load),
		newDiagnoseCmd(load),
		newKnowledgeCmd(load),
	)
	return cmd
}

type configLoader func() (*config.Config, error)
