package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/franckalain/cropdoctor/internal/app"
	"github.com/franckalain/cropdoctor/internal/camera"
	"github.com/franckalain/cropdoctor/internal/connectivity"
	"github.com/franckalain/cropdoctor/internal/database"
	"github.com/franckalain/cropdoctor/internal/knowledge"
	"github.com/franckalain/cropdoctor/internal/locale"
	"github.com/franckalain/cropdoctor/internal/ml"
	"github.com/franckalain/cropdoctor/internal/models"
	"github.com/franckalain/cropdoctor/internal/pipeline"
	"github.com/spf13/cobra"
)

func newDiagnoseCmd(load configLoader) *cobra.Command {
	var (
		lat, lng  float64
		offline   bool
		modelType string
		lang      string
	)
	cmd := &cobra.Command{
		Use:   "diagnose <image>...",
		Short: "Run image files through the capture pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := load()
			if err != nil {
				return err
			}
			if modelType == "" {
				modelType = cfg.Prediction.Type
			}
			if lang == "" {
				lang = cfg.Language
			}
			language, err := models.ParseLanguage(lang)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			model, err := ml.NewModel(modelType, ml.Options{
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

			opts := app.Options{
				Language:    language,
				JPEGQuality: cfg.Capture.JPEGQuality,
				FacingMode:  camera.FacingMode(cfg.Capture.FacingMode),
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				opts.Locator = camera.FixedLocator{Latitude: lat, Longitude: lng}
			}
			state := app.New(db, model, connectivity.NewMonitor(!offline), kb, tr, opts)
			defer state.Close()

			cam := camera.NewFileCamera(args...)
			if err := state.OpenCamera(ctx, cam); err != nil {
				return err
			}
			defer cam.Release()

			out := cmd.OutOrStdout()
			for _, path := range args {
				nav, err := state.CaptureFrom(ctx, cam)
				if err != nil {
					return fmt.Errorf("failed to diagnose %s: %w", path, err)
				}
				if nav.Route == pipeline.RouteHistory {
					fmt.Fprintf(out, "%s: queued for processing when back online\n", filepath.Base(path))
					continue
				}
				d, err := state.Diagnosis(ctx, nav.DiagnosisID)
				if err != nil {
					return err
				}
				printDiagnosis(out, filepath.Base(path), d, state, language)
			}

			if n, err := state.PendingCount(ctx); err == nil && n > 0 {
				fmt.Fprintf(out, "%d image(s) pending\n", n)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude recorded with each capture")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude recorded with each capture")
	cmd.Flags().BoolVar(&offline, "offline", false, "Queue images instead of calling the service")
	cmd.Flags().StringVarP(&modelType, "model", "m", "", "Prediction backend (remote, google, demo)")
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Language for disease information (en, hi)")
	return cmd
}

func printDiagnosis(out io.Writer, name string, d *models.Diagnosis, state *app.State, lang models.Language) {
	top, ok := d.TopDetection()
	if !ok {
		fmt.Fprintf(out, "%s: no disease detected\n", name)
		return
	}
	fmt.Fprintf(out, "%s: %s (%d%%)\n", name, models.DisplayName(top.Label), models.ConfidencePercent(top.Confidence))
	fmt.Fprintf(out, "  Diagnosis ID: %s\n", d.ID)
	if d.Location != nil {
		fmt.Fprintf(out, "  Location: %s\n", d.Location)
	}
	if info, found := state.LookupDisease(top.Label); found {
		printDisease(out, info, lang)
	}
}

func printDisease(out io.Writer, info *models.DiseaseInfo, lang models.Language) {
	fmt.Fprintf(out, "  Symptoms: %s\n", info.SymptomsIn(lang))
	fmt.Fprintln(out, "  Treatment:")
	for _, t := range info.TreatmentsIn(lang) {
		fmt.Fprintf(out, "    - %s\n", t)
	}
}
