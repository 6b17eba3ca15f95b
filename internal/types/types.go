package types

import "time"

// FrameTask represents a single decoded frame queued for compositing
type FrameTask struct {
	Index int
	Data  []byte // raw RGBA, Width*Height*4 bytes
}

// Point is a landmark coordinate normalized to [0,1] relative to the video
// dimensions. Z is relative depth and is zero for 2D-only models.
type Point struct {
	X float64 `msgpack:"x" json:"x"`
	Y float64 `msgpack:"y" json:"y"`
	Z float64 `msgpack:"z" json:"z,omitempty"`
}

// LandmarkFrame is one detector result for the most prominent face.
// An empty Points slice means no face was found.
type LandmarkFrame struct {
	Points     []Point
	Width      int // dimensions of the frame the points were computed on
	Height     int
	CapturedAt time.Time
}

// HasFace reports whether the frame carries any landmarks.
func (f *LandmarkFrame) HasFace() bool {
	return f != nil && len(f.Points) > 0
}

// Shade is a named, categorized foundation color.
type Shade struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Category string `yaml:"category" json:"category"`
	ColorHex string `yaml:"color" json:"colorHex"`
}

// DeviceClass is the coarse performance class of the host, used to tune
// camera constraints, detector precision and frame skipping.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceIOS     DeviceClass = "ios"
	DeviceLowEnd  DeviceClass = "low-end"
)

// Constrained reports whether the class should trade accuracy for speed.
func (d DeviceClass) Constrained() bool {
	return d != DeviceDesktop
}
