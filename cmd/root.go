package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/tryon/internal/config"
	"github.com/andresmejia3/tryon/internal/logging"
	"github.com/andresmejia3/tryon/internal/store"
)

// Options holds flag overrides shared by serve, render and snapshot.
type Options struct {
	Device         string
	Backend        string
	Regions        string
	RegionsFile    string
	Opacity        float64
	Confidence     float64
	InitTimeout    string
	MaxAttempts    int
	FatalThreshold int
	FrameSkip      int
}

var (
	// cfg is the environment configuration, loaded before every command
	cfg *config.Config
	// logger is the root logger
	logger zerolog.Logger
	// DB is the optional database connection shared by subcommands
	DB *store.Store
	// dbURL overrides DATABASE_URL
	dbURL    string
	envFile  string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "tryon",
	Short:   "Real-time foundation shade try-on",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; the environment may already be set.
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger = logging.New(cfg.LogLevel, os.Stderr)

		if dbURL == "" {
			dbURL = cfg.Database.URL
		}
		if dbURL == "" {
			logger.Debug().Msg("No database configured, custom shades are kept in memory")
			return nil
		}

		var err error
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL, none keeps custom shades in memory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $LOG_LEVEL or info)")
}

// addPipelineFlags registers the flags shared by every command that runs
// the detector and compositor. Zero values keep the environment settings.
func addPipelineFlags(cmd *cobra.Command, opts *Options) {
	f := cmd.Flags()
	f.StringVar(&opts.Device, "device", "", "Device class: desktop, mobile, ios, low-end (default: detected)")
	f.StringVarP(&opts.Backend, "backend", "b", "", "Face model: mesh, pigo, none (default: $DETECTOR_BACKEND or mesh)")
	f.StringVar(&opts.Regions, "regions", "", "Region table name (default: matches the backend)")
	f.StringVar(&opts.RegionsFile, "regions-file", "", "YAML file with region tables")
	f.Float64Var(&opts.Opacity, "opacity", 0, "Overlay opacity (default: $RENDER_OPACITY or 0.4)")
	f.Float64VarP(&opts.Confidence, "confidence", "c", 0, "Detection confidence (default: 0.5 desktop, 0.7 mobile)")
	f.StringVar(&opts.InitTimeout, "init-timeout", "", "Face model initialization timeout (e.g. '15s')")
	f.IntVar(&opts.MaxAttempts, "init-attempts", 0, "Face model load attempts before falling back")
	f.IntVar(&opts.FatalThreshold, "fatal-threshold", 0, "Consecutive fatal frame errors before falling back")
	f.IntVar(&opts.FrameSkip, "frame-skip", 0, "Process every Nth tick (default: by device class)")
}
