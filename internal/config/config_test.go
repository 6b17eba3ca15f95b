package config

import (
	"testing"
	"time"

	"github.com/andresmejia3/tryon/internal/types"
)

func TestDetectDeviceOverride(t *testing.T) {
	tests := []struct {
		env  string
		want types.DeviceClass
	}{
		{"desktop", types.DeviceDesktop},
		{"MOBILE", types.DeviceMobile},
		{"ios", types.DeviceIOS},
		{"lowend", types.DeviceLowEnd},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("TRYON_DEVICE", tt.env)
			if got := DetectDevice(); got != tt.want {
				t.Errorf("DetectDevice() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadDeviceTunedDefaults(t *testing.T) {
	t.Setenv("TRYON_DEVICE", "mobile")
	cfg := Load()
	if cfg.Detector.DetectionConfidence != 0.7 {
		t.Errorf("mobile detection confidence = %v, want 0.7", cfg.Detector.DetectionConfidence)
	}
	if cfg.Detector.Refine {
		t.Error("refine should be disabled on mobile")
	}

	t.Setenv("TRYON_DEVICE", "desktop")
	cfg = Load()
	if cfg.Detector.DetectionConfidence != 0.5 || !cfg.Detector.Refine {
		t.Errorf("desktop defaults wrong: conf=%v refine=%v", cfg.Detector.DetectionConfidence, cfg.Detector.Refine)
	}
	if cfg.Detector.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Detector.MaxAttempts)
	}
}

func TestEnvHelpersIgnoreInvalid(t *testing.T) {
	t.Setenv("X_INT", "-4")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_FLOAT", "abc")
	if got := envInt("X_INT", 7); got != 7 {
		t.Errorf("envInt = %d, want 7", got)
	}
	if got := envDuration("X_DUR", time.Second); got != time.Second {
		t.Errorf("envDuration = %v, want 1s", got)
	}
	if got := envFloat("X_FLOAT", 0.4); got != 0.4 {
		t.Errorf("envFloat = %v, want 0.4", got)
	}
}
