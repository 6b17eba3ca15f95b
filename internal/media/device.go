package media

import (
	"context"
	"errors"
	"image"
	"sync/atomic"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera adapter
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"
)

var errTrackStopped = errors.New("track stopped")

// DeviceCamera opens local capture devices through mediadevices.
type DeviceCamera struct {
	log zerolog.Logger
}

func NewDeviceCamera(log zerolog.Logger) *DeviceCamera {
	return &DeviceCamera{log: log}
}

func hasVideoInput() bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			return true
		}
	}
	return false
}

func (d *DeviceCamera) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, acquireErr(Generic, err)
	}
	if !hasVideoInput() {
		return nil, acquireErr(DeviceNotFound, errors.New("no video input devices"))
	}
	if c.FacingMode != "" {
		d.log.Debug().Str("facing_mode", c.FacingMode).Msg("Facing mode is not selectable on local devices, ignoring")
	}

	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				if c.Exact {
					mc.Width = prop.IntExact(c.Width)
				} else {
					mc.Width = prop.Int(c.Width)
				}
			}
			if c.Height > 0 {
				if c.Exact {
					mc.Height = prop.IntExact(c.Height)
				} else {
					mc.Height = prop.Int(c.Height)
				}
			}
			if c.FrameRate > 0 {
				if c.Exact {
					mc.FrameRate = prop.FloatExact(float32(c.FrameRate))
				} else {
					mc.FrameRate = prop.Float(float32(c.FrameRate))
				}
			}
		},
	})
	if err != nil {
		return nil, acquireErr(classify(err), err)
	}

	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, acquireErr(DeviceNotFound, errors.New("stream has no video track"))
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range tracks {
			t.Close()
		}
		return nil, acquireErr(Generic, errors.New("unexpected track type"))
	}
	for _, t := range tracks[1:] {
		t.Close()
	}

	t := &deviceTrack{t: vt}
	return &deviceStream{track: t, reader: vt.NewReader(false)}, nil
}

type deviceTrack struct {
	t       mediadevices.Track
	stopped atomic.Bool
}

func (t *deviceTrack) ID() string { return t.t.ID() }

func (t *deviceTrack) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	return t.t.Close()
}

func (t *deviceTrack) Live() bool { return !t.stopped.Load() }

type deviceStream struct {
	track  *deviceTrack
	reader video.Reader
}

func (s *deviceStream) Tracks() []Track { return []Track{s.track} }

func (s *deviceStream) Read() (image.Image, error) {
	if !s.track.Live() {
		return nil, errTrackStopped
	}
	img, release, err := s.reader.Read()
	if err != nil {
		if !s.track.Live() {
			return nil, errTrackStopped
		}
		return nil, err
	}
	// The driver reuses its buffer after release.
	out := toRGBA(img, 0, 0)
	release()
	return out, nil
}
