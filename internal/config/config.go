package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/tryon/internal/types"
)

type Config struct {
	Device   types.DeviceClass
	Camera   CameraConfig
	Detector DetectorConfig
	Render   RenderConfig
	Database DatabaseConfig
	Web      WebConfig
	Snapshot SnapshotConfig
	LogLevel string
}

type CameraConfig struct {
	Source            string // "device" (mediadevices) or "ffmpeg"
	Input             string // ffmpeg input: a v4l2 device node or a video file
	Exact             bool   // request exact rather than ideal constraints
	AutoplayPolicy    string // "allow" or "gesture"
	ReleaseWhenHidden bool   // stop the camera while the UI is hidden
	HealthInterval    time.Duration
}

type DetectorConfig struct {
	Backend             string // "mesh", "pigo" or "none"
	Python              string
	Script              string
	CascadeDir          string
	InitTimeout         time.Duration
	MaxAttempts         int
	ReadTimeout         time.Duration
	DetectionConfidence float64
	TrackingConfidence  float64
	Refine              bool
	FatalThreshold      int // consecutive fatal frame errors before fallback
}

type RenderConfig struct {
	FPS         int
	Opacity     float64
	Regions     string // built-in region table name
	RegionsFile string // optional YAML replacing the built-in table
	FrameSkip   int    // 0 derives the interval from the device class
}

type DatabaseConfig struct {
	URL string // optional; custom shades are kept in memory without it
}

type WebConfig struct {
	Host string
	Port int
}

type SnapshotConfig struct {
	Dir      string
	Filename string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// DetectDevice guesses the performance class of the host.
// TRYON_DEVICE overrides the guess.
func DetectDevice() types.DeviceClass {
	switch strings.ToLower(os.Getenv("TRYON_DEVICE")) {
	case "desktop":
		return types.DeviceDesktop
	case "mobile":
		return types.DeviceMobile
	case "ios":
		return types.DeviceIOS
	case "low-end", "lowend":
		return types.DeviceLowEnd
	}

	switch runtime.GOOS {
	case "ios":
		return types.DeviceIOS
	case "android":
		return types.DeviceMobile
	}
	if (runtime.GOARCH == "arm" || runtime.GOARCH == "arm64") && runtime.NumCPU() <= 4 {
		return types.DeviceLowEnd
	}
	return types.DeviceDesktop
}

// Load builds the configuration from the environment. Callers are expected to
// have loaded any .env file beforehand.
func Load() *Config {
	return LoadFor(DetectDevice())
}

// LoadFor builds the configuration with defaults tuned for device.
func LoadFor(device types.DeviceClass) *Config {

	// Constrained devices use a stricter threshold to suppress false positives
	// and skip landmark refinement.
	confidence := 0.5
	if device.Constrained() {
		confidence = 0.7
	}

	return &Config{
		Device: device,
		Camera: CameraConfig{
			Source:            envString("CAMERA_SOURCE", "device"),
			Input:             envString("CAMERA_INPUT", "/dev/video0"),
			Exact:             envBool("CAMERA_EXACT", false),
			AutoplayPolicy:    envString("CAMERA_AUTOPLAY", "allow"),
			ReleaseWhenHidden: envBool("CAMERA_RELEASE_WHEN_HIDDEN", true),
			HealthInterval:    envDuration("CAMERA_HEALTH_INTERVAL", 2*time.Second),
		},
		Detector: DetectorConfig{
			Backend:             envString("DETECTOR_BACKEND", "mesh"),
			Python:              envString("DETECTOR_PYTHON", "python3"),
			Script:              envString("DETECTOR_SCRIPT", "python/mesh_worker.py"),
			CascadeDir:          envString("DETECTOR_CASCADE_DIR", "cascade"),
			InitTimeout:         envDuration("DETECTOR_INIT_TIMEOUT", 15*time.Second),
			MaxAttempts:         envInt("DETECTOR_MAX_ATTEMPTS", 2),
			ReadTimeout:         envDuration("DETECTOR_READ_TIMEOUT", 2*time.Second),
			DetectionConfidence: envFloat("DETECTOR_DETECTION_CONFIDENCE", confidence),
			TrackingConfidence:  envFloat("DETECTOR_TRACKING_CONFIDENCE", confidence),
			Refine:              envBool("DETECTOR_REFINE", !device.Constrained()),
			FatalThreshold:      envInt("DETECTOR_FATAL_THRESHOLD", 3),
		},
		Render: RenderConfig{
			FPS:         envInt("RENDER_FPS", 30),
			Opacity:     envFloat("RENDER_OPACITY", 0.4),
			Regions:     envString("RENDER_REGIONS", "mesh"),
			RegionsFile: os.Getenv("RENDER_REGIONS_FILE"),
			FrameSkip:   envInt("RENDER_FRAME_SKIP", 0),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
		Snapshot: SnapshotConfig{
			Dir:      envString("SNAPSHOT_DIR", "/data/snapshots"),
			Filename: envString("SNAPSHOT_FILENAME", "my_pearl_tryon.png"),
		},
		LogLevel: envString("LOG_LEVEL", "info"),
	}
}
