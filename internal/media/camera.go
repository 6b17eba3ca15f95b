package media

import (
	"context"
	"image"

	"github.com/andresmejia3/tryon/internal/types"
)

// Camera opens video streams. Implementations report failures as
// *AcquireError so the Manager can pick a recovery path.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an opened camera stream.
type Stream interface {
	Tracks() []Track
	// Read blocks until the next frame is available. The returned image is
	// owned by the caller. Read fails once every track is stopped.
	Read() (image.Image, error)
}

// Track is one capture track of a Stream.
type Track interface {
	ID() string
	Stop() error
	Live() bool
}

// Constraints describe the requested capture format. Zero fields are
// unconstrained.
type Constraints struct {
	Width      int
	Height     int
	FrameRate  float64
	FacingMode string
	Exact      bool
}

// ConstraintsFor returns the preferred constraints for a device class.
func ConstraintsFor(d types.DeviceClass, exact bool) Constraints {
	switch d {
	case types.DeviceIOS:
		return Constraints{Width: 640, Height: 480, FacingMode: "user", Exact: exact}
	case types.DeviceMobile, types.DeviceLowEnd:
		return Constraints{Width: 720, Height: 1280, FacingMode: "user", Exact: exact}
	default:
		return Constraints{Width: 1280, Height: 720, FrameRate: 30, FacingMode: "user", Exact: exact}
	}
}

// FallbackConstraints are used once after the preferred constraints were
// rejected: facing mode only on iOS, anything elsewhere.
func FallbackConstraints(d types.DeviceClass) Constraints {
	if d == types.DeviceIOS {
		return Constraints{FacingMode: "user"}
	}
	return Constraints{}
}

func anyLive(tracks []Track) bool {
	for _, t := range tracks {
		if t.Live() {
			return true
		}
	}
	return false
}
