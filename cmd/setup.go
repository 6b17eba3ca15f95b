package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/tryon/internal/compositor"
	"github.com/andresmejia3/tryon/internal/config"
	"github.com/andresmejia3/tryon/internal/detector"
	"github.com/andresmejia3/tryon/internal/logging"
	"github.com/andresmejia3/tryon/internal/media"
	"github.com/andresmejia3/tryon/internal/shade"
	"github.com/andresmejia3/tryon/internal/types"
	"github.com/andresmejia3/tryon/internal/utils"
	"github.com/andresmejia3/tryon/internal/worker"
)

var backends = map[string]bool{"mesh": true, "pigo": true, "none": true}

func parseDevice(s string) (types.DeviceClass, error) {
	switch strings.ToLower(s) {
	case "desktop":
		return types.DeviceDesktop, nil
	case "mobile":
		return types.DeviceMobile, nil
	case "ios":
		return types.DeviceIOS, nil
	case "low-end", "lowend":
		return types.DeviceLowEnd, nil
	}
	return "", fmt.Errorf("unknown device class %q. Must be one of: desktop, mobile, ios, low-end", s)
}

// validatePipelineFlags applies the flag overrides in opts to c and checks
// the result.
func validatePipelineFlags(c *config.Config, opts *Options) error {
	if opts.Device != "" {
		d, err := parseDevice(opts.Device)
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		if d != c.Device {
			// Device-tuned defaults follow the override; the environment still wins.
			*c = *config.LoadFor(d)
		}
	}

	if opts.Backend != "" {
		c.Detector.Backend = opts.Backend
	}
	if !backends[c.Detector.Backend] {
		err := fmt.Errorf("invalid backend '%s'. Must be one of: mesh, pigo, none", c.Detector.Backend)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if opts.Regions != "" {
		c.Render.Regions = opts.Regions
	} else if c.Detector.Backend == "pigo" && c.Render.Regions == "mesh" {
		c.Render.Regions = "pigo"
	}
	if opts.RegionsFile != "" {
		c.Render.RegionsFile = opts.RegionsFile
	}

	if opts.Opacity != 0 {
		c.Render.Opacity = opts.Opacity
	}
	if c.Render.Opacity <= 0 || c.Render.Opacity > 1.0 {
		err := fmt.Errorf("must be between 0.0 and 1.0, got %f", c.Render.Opacity)
		utils.ShowError("Invalid opacity", err, nil)
		return err
	}

	if opts.Confidence != 0 {
		c.Detector.DetectionConfidence = opts.Confidence
		c.Detector.TrackingConfidence = opts.Confidence
	}
	if c.Detector.DetectionConfidence <= 0 || c.Detector.DetectionConfidence > 1.0 {
		err := fmt.Errorf("must be between 0.0 and 1.0, got %f", c.Detector.DetectionConfidence)
		utils.ShowError("Invalid detection confidence", err, nil)
		return err
	}

	if opts.InitTimeout != "" {
		d, err := time.ParseDuration(opts.InitTimeout)
		if err != nil {
			utils.ShowError("Invalid init-timeout format (use '15s', '1m')", err, nil)
			return err
		}
		c.Detector.InitTimeout = d
	}

	if opts.MaxAttempts < 0 || opts.FatalThreshold < 0 || opts.FrameSkip < 0 {
		err := fmt.Errorf("init-attempts, fatal-threshold and frame-skip must not be negative")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if opts.MaxAttempts > 0 {
		c.Detector.MaxAttempts = opts.MaxAttempts
	}
	if opts.FatalThreshold > 0 {
		c.Detector.FatalThreshold = opts.FatalThreshold
	}
	if opts.FrameSkip > 0 {
		c.Render.FrameSkip = opts.FrameSkip
	}
	return nil
}

// newModel builds the configured face model. id distinguishes parallel
// workers in logs.
func newModel(c *config.Config, id int) detector.Model {
	switch c.Detector.Backend {
	case "pigo":
		return detector.NewPigoModel(c.Detector.CascadeDir, logging.Component(logger, "pigo"))
	case "none":
		return detector.Disabled{}
	default:
		return worker.NewMeshWorker(id, c.Detector.Python, c.Detector.Script, c.Detector.ReadTimeout,
			logging.Component(logger, "mesh").With().Int("worker", id).Logger())
	}
}

func detectorOptions(c *config.Config) detector.Options {
	return detector.Options{
		Config: detector.Config{
			MaxFaces:            1,
			Refine:              c.Detector.Refine,
			DetectionConfidence: c.Detector.DetectionConfidence,
			TrackingConfidence:  c.Detector.TrackingConfidence,
		},
		MaxAttempts: c.Detector.MaxAttempts,
		InitTimeout: c.Detector.InitTimeout,
		RetryDelay:  250 * time.Millisecond,
	}
}

func compositorOptions(c *config.Config) (compositor.Options, error) {
	regions, err := compositor.LoadRegionTable(c.Render.Regions, c.Render.RegionsFile)
	if err != nil {
		return compositor.Options{}, err
	}
	return compositor.Options{
		Regions:      regions,
		Opacity:      c.Render.Opacity,
		SkipInterval: c.Render.FrameSkip,
	}, nil
}

func newCamera(c *config.Config) (media.Camera, error) {
	switch c.Camera.Source {
	case "device":
		return media.NewDeviceCamera(logging.Component(logger, "camera")), nil
	case "ffmpeg":
		return media.NewFFmpegCamera(c.Camera.Input, true, logging.Component(logger, "camera")), nil
	}
	return nil, fmt.Errorf("invalid camera source '%s'. Must be 'device' or 'ffmpeg'", c.Camera.Source)
}

func cameraOptions(c *config.Config) media.Options {
	return media.Options{
		Device:            c.Device,
		Exact:             c.Camera.Exact,
		ReleaseWhenHidden: c.Camera.ReleaseWhenHidden,
		HealthInterval:    c.Camera.HealthInterval,
	}
}

// loadCatalog builds the shade catalog, including persisted custom shades
// when a database is configured.
func loadCatalog(ctx context.Context) (*shade.Catalog, error) {
	var p shade.Persister
	if DB != nil {
		p = DB
	}
	cat, err := shade.New(p)
	if err != nil {
		return nil, err
	}
	if err := cat.LoadCustom(ctx); err != nil {
		return nil, err
	}
	return cat, nil
}

// resolveShade picks a shade by catalog id or, failing that, treats the
// argument as a color.
func resolveShade(cat *shade.Catalog, arg string) (*types.Shade, error) {
	if arg == "" {
		return nil, nil
	}
	if sh, ok := cat.Get(arg); ok {
		return &sh, nil
	}
	for _, sh := range cat.All() {
		if strings.EqualFold(sh.Name, arg) {
			return &sh, nil
		}
	}
	rgba, err := shade.ParseHex(arg)
	if err != nil {
		return nil, fmt.Errorf("no shade with id or name %q, and not a color: %w", arg, err)
	}
	return &types.Shade{ID: "adhoc", Name: shade.FormatHex(rgba), Category: shade.CustomCategory, ColorHex: shade.FormatHex(rgba)}, nil
}
