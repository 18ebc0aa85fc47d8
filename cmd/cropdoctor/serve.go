package main

import (
	"fmt"
	"log"
	"time"

	"github.com/franckalain/cropdoctor/internal/app"
	"github.com/franckalain/cropdoctor/internal/camera"
	"github.com/franckalain/cropdoctor/internal/connectivity"
	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/knowledge"
	"github.com/franckalain/cropdoctor/internal/locale"
	"github.com/franckalain/cropdoctor/internal/ml"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/franckalain/cropdoctor/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(load configLoader) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the views over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			model, err := ml.NewModel(cfg.Prediction.Type, ml.Options{
				APIURL:  cfg.Prediction.APIURL,
				Timeout: time.Duration(cfg.Prediction.Timeout),
			})
			if err != nil {
				return fmt.Errorf("failed to create prediction model: %w", err)
			}
			if err := model.Load(ctx); err != nil {
				return fmt.Errorf("failed to load prediction model: %w", err)
			}

			tr, err := locale.New()
			if err != nil {
				return err
			}
			kb, err := knowledge.Default()
			if err != nil {
				return err
			}

			prober := connectivity.NewHTTPProber(cfg.Prediction.APIURL)
			online := cfg.Connectivity.AssumeOnline || prober.Probe(ctx)
			monitor := connectivity.NewMonitor(online)
			log.Printf("Prediction service %s is %s", cfg.Prediction.APIURL, onlineWord(online))

			state := app.New(db, model, monitor, kb, tr, app.Options{
				Language:    models.Language(cfg.Language),
				DrainDelay:  time.Duration(cfg.Connectivity.DrainDelay),
				JPEGQuality: cfg.Capture.JPEGQuality,
				FacingMode:  camera.FacingMode(cfg.Capture.FacingMode),
			})
			defer state.Close()

			go monitor.Run(ctx, prober, time.Duration(cfg.Connectivity.ProbeInterval))

			return server.New(state, cfg.Server.Debug).Serve(ctx, cfg.Server.Port, cfg.Server.StaticDir)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Override the configured listen port")
	return cmd
}

func onlineWord(online bool) string {
	if online {
		return "reachable"
	}
	return "unreachable"
}
