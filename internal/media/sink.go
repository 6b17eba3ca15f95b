package media

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

var errGestureRequired = errors.New("playback requires a user gesture")

// Sink is the live video surface a Stream is attached to. Once playing, a
// pump goroutine keeps the latest frame available to the render loop.
type Sink struct {
	requireGesture bool
	log            zerolog.Logger

	mu       sync.Mutex
	stream   Stream
	width    int
	height   int
	frame    *image.RGBA
	seq      uint64
	gestured bool
	pumping  bool
}

// NewSink creates a Sink. With requireGesture set, Play is refused until
// Gesture has been called, mirroring a browser autoplay policy.
func NewSink(requireGesture bool, log zerolog.Logger) *Sink {
	return &Sink{requireGesture: requireGesture, log: log}
}

// Attach binds st to the sink. Only one stream may be attached at a time.
func (s *Sink) Attach(st Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return ErrSinkBusy
	}
	s.stream = st
	s.width, s.height = 0, 0
	s.frame = nil
	return nil
}

// Detach unbinds st, or whatever is attached when st is nil.
func (s *Sink) Detach(st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || (st != nil && s.stream != st) {
		return
	}
	s.stream = nil
	s.pumping = false
	s.frame = nil
	s.width, s.height = 0, 0
}

// WaitMetadata blocks until the first frame arrives and records the video
// dimensions.
func (s *Sink) WaitMetadata(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return 0, 0, ErrNoStream
	}

	type result struct {
		img image.Image
		err error
	}
	ch := make(chan result, 1)
	go func() {
		img, err := st.Read()
		ch <- result{img, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case r = <-ch:
	}
	if r.err != nil {
		return 0, 0, r.err
	}

	frame := toRGBA(r.img, 0, 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != st {
		return 0, 0, ErrNoStream
	}
	s.width, s.height = frame.Rect.Dx(), frame.Rect.Dy()
	s.frame = frame
	s.seq++
	return s.width, s.height, nil
}

// Play starts delivering frames. It is idempotent while frames are flowing
// and restarts delivery if the pump stopped.
func (s *Sink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return acquireErr(PlaybackError, ErrNoStream)
	}
	if s.requireGesture && !s.gestured {
		return acquireErr(PlaybackBlocked, errGestureRequired)
	}
	if s.pumping {
		return nil
	}
	if s.width == 0 || s.height == 0 {
		return acquireErr(PlaybackError, errors.New("video metadata not loaded"))
	}
	s.pumping = true
	go s.pump(s.stream, s.width, s.height)
	return nil
}

func (s *Sink) pump(st Stream, w, h int) {
	for {
		img, err := st.Read()
		var frame *image.RGBA
		if err == nil {
			frame = toRGBA(img, w, h)
		}

		s.mu.Lock()
		if s.stream != st {
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.pumping = false
			s.mu.Unlock()
			s.log.Debug().Err(err).Msg("Frame delivery stopped")
			return
		}
		s.frame = frame
		s.seq++
		s.mu.Unlock()
	}
}

// Gesture records a user interaction, lifting the autoplay restriction.
func (s *Sink) Gesture() {
	s.mu.Lock()
	s.gestured = true
	s.mu.Unlock()
}

// CurrentFrame returns the latest frame and its sequence number. Frames are
// never mutated after publication.
func (s *Sink) CurrentFrame() (*image.RGBA, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, s.seq, false
	}
	return s.frame, s.seq, true
}

// Seq is the frame clock: it advances with every delivered frame.
func (s *Sink) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Sink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pumping
}

func (s *Sink) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Size returns the video dimensions, or zeros before metadata is loaded.
func (s *Sink) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// toRGBA copies img into a fresh RGBA of size w x h, scaling if needed.
// A zero size keeps the source dimensions.
func toRGBA(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	if w == 0 || h == 0 {
		w, h = b.Dx(), b.Dy()
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if b.Dx() == w && b.Dy() == h {
		draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return dst
}
