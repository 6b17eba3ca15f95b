package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/tryon/internal/compositor"
	"github.com/andresmejia3/tryon/internal/detector"
	"github.com/andresmejia3/tryon/internal/logging"
	"github.com/andresmejia3/tryon/internal/pipeline"
	"github.com/andresmejia3/tryon/internal/snapshot"
	"github.com/andresmejia3/tryon/internal/state"
	"github.com/andresmejia3/tryon/internal/utils"
)

var (
	snapshotOpts    Options
	snapshotShade   string
	snapshotOutput  string
	snapshotTimeout string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture one composited frame from the camera as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSnapshot(cmd.Context(), snapshotOpts)
	},
}

func init() {
	addPipelineFlags(snapshotCmd, &snapshotOpts)
	snapshotCmd.Flags().StringVarP(&snapshotShade, "shade", "s", "", "Shade to apply (id, name or #RRGGBB)")
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", snapshot.DefaultFilename, "Output PNG path")
	snapshotCmd.Flags().StringVarP(&snapshotTimeout, "timeout", "t", "20s", "How long to wait for the camera and a face")
	rootCmd.AddCommand(snapshotCmd)
}

var errNoFrame = errors.New("no frame was drawn before the timeout")

func runSnapshot(ctx context.Context, opts Options) error {
	if err := validatePipelineFlags(cfg, &opts); err != nil {
		return err
	}
	timeout, err := time.ParseDuration(snapshotTimeout)
	if err != nil {
		utils.ShowError("Invalid timeout format (use '20s', '1m')", err, nil)
		return err
	}

	catalog, err := loadCatalog(ctx)
	if err != nil {
		utils.ShowError("Failed to load shades", err, nil)
		return err
	}
	st := state.New()
	sh, err := resolveShade(catalog, snapshotShade)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	st.SetSelectedShade(sh)

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
		FatalThreshold: cfg.Detector.FatalThreshold,
		Camera:         cameraOptions(cfg),
		Detector:       detectorOptions(cfg),
		Compositor:     compOpts,
	}, logging.Component(logger, "pipeline"))
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Close()

	fmt.Println("📷 Waiting for the camera...")
	if err := waitForFace(ctx, p, timeout); err != nil {
		utils.ShowError("Failed to capture snapshot", err, nil)
		return err
	}

	if err := snapshot.WriteFile(snapshotOutput, p.Snapshot()); err != nil {
		utils.ShowError("Failed to write snapshot", err, nil)
		return err
	}
	fmt.Printf("✅ Saved %s (%s)\n", snapshotOutput, st.Snapshot().Status())
	return nil
}

// waitForFace waits until the detector has settled and a frame was drawn
// after a face was reported. After the timeout any drawn frame is accepted.
func waitForFace(ctx context.Context, p *pipeline.Pipeline, timeout time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	var readyAt uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			if p.Stats().Drawn > 0 {
				return nil
			}
			return errNoFrame
		case <-ticker.C:
		}

		v := p.State().Snapshot()
		if v.CameraError != nil {
			return errors.New(v.CameraError.Message)
		}
		drawn := p.Stats().Drawn
		settled := p.DetectorStatus() != detector.Loading
		if !settled || !v.CameraReady || !v.FaceDetected || drawn == 0 {
			readyAt = 0
			continue
		}
		// landmarks reach the surface one tick after they are reported
		if readyAt == 0 {
			readyAt = drawn
		} else if drawn > readyAt {
			return nil
		}
	}
}
