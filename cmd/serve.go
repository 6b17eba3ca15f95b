package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tryon/internal/compositor"
	"github.com/andresmejia3/tryon/internal/logging"
	"github.com/andresmejia3/tryon/internal/pipeline"
	"github.com/andresmejia3/tryon/internal/snapshot"
	"github.com/andresmejia3/tryon/internal/state"
	"github.com/andresmejia3/tryon/internal/utils"
	"github.com/andresmejia3/tryon/internal/web"
)

var (
	serveOpts  Options
	serveHost  string
	servePort  int
	serveShade string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live try-on and serve it over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context(), serveOpts)
	},
}

func init() {
	addPipelineFlags(serveCmd, &serveOpts)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: $WEB_HOST or 0.0.0.0)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default: $WEB_PORT or 8080)")
	serveCmd.Flags().StringVarP(&serveShade, "shade", "s", "", "Initially selected shade (id, name or #RRGGBB)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, opts Options) error {
	if err := validatePipelineFlags(cfg, &opts); err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Web.Host = serveHost
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	catalog, err := loadCatalog(ctx)
	if err != nil {
		utils.ShowError("Failed to load shades", err, nil)
		return err
	}
	st := state.New()
	if serveShade != "" {
		sh, err := resolveShade(catalog, serveShade)
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		st.SetSelectedShade(sh)
	}

	cam, err := newCamera(cfg)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	compOpts, err := compositorOptions(cfg)
	if err != nil {
		utils.ShowError("Failed to load region table", err, nil)
		return err
	}

	p := pipeline.New(cam, newModel(cfg, 0), compositor.NewRGBACanvas(), st, pipeline.Options{
		FPS:            cfg.Render.FPS,
		RequireGesture: cfg.Camera.AutoplayPolicy == "gesture",
		FatalThreshold: cfg.Detector.FatalThreshold,
		Camera:         cameraOptions(cfg),
		Detector:       detectorOptions(cfg),
		Compositor:     compOpts,
	}, logging.Component(logger, "pipeline"))

	var recorder snapshot.Recorder
	if DB != nil {
		recorder = DB
	}
	exporter := snapshot.NewExporter(cfg.Snapshot.Dir, cfg.Snapshot.Filename, recorder, logging.Component(logger, "snapshot"))
	srv := web.NewServer(st, catalog, p, exporter, web.Options{
		Host:     cfg.Web.Host,
		Port:     cfg.Web.Port,
		Filename: cfg.Snapshot.Filename,
	}, logging.Component(logger, "web"))

	if err := p.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("🪞 Try-on running at http://%s:%d (%s, %s backend)\n", cfg.Web.Host, cfg.Web.Port, cfg.Device, cfg.Detector.Backend)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	// Use a fresh context: the command context is already cancelled on Ctrl+C.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn().Err(err).Msg("Web server did not shut down cleanly")
	}
	if err := p.Close(); err != nil {
		logger.Warn().Err(err).Msg("Face model did not close cleanly")
	}

	if serveErr != nil {
		utils.ShowError("Web server failed", serveErr, nil)
	}
	return serveErr
}
