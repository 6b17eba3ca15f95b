package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/utils"
)

// FFmpegCamera reads frames from a V4L2 device node or a video file through
// an ffmpeg subprocess emitting raw RGBA.
type FFmpegCamera struct {
	Input string
	// Loop replays file inputs forever.
	Loop bool
	log  zerolog.Logger
}

func NewFFmpegCamera(input string, loop bool, log zerolog.Logger) *FFmpegCamera {
	return &FFmpegCamera{Input: input, Loop: loop, log: log}
}

func (f *FFmpegCamera) isDevice() bool {
	info, err := os.Stat(f.Input)
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func (f *FFmpegCamera) Open(ctx context.Context, c Constraints) (Stream, error) {
	if _, err := os.Stat(f.Input); err != nil {
		return nil, acquireErr(classify(err), err)
	}

	var inputArgs []string
	w, h := c.Width, c.Height
	if f.isDevice() {
		inputArgs = append(inputArgs, "-f", "v4l2")
		if w > 0 && h > 0 {
			inputArgs = append(inputArgs, "-video_size", fmt.Sprintf("%dx%d", w, h))
		}
		if c.FrameRate > 0 {
			inputArgs = append(inputArgs, "-framerate", fmt.Sprintf("%g", c.FrameRate))
		}
	} else {
		// Files play at their native rate; the requested size is only a hint
		// unless exact constraints were asked for.
		inputArgs = append(inputArgs, "-re")
		if f.Loop {
			inputArgs = append(inputArgs, "-stream_loop", "-1")
		}
		w, h = 0, 0
	}

	if w == 0 || h == 0 {
		pw, ph, err := utils.GetVideoDimensions(ctx, f.Input)
		if err != nil {
			return nil, acquireErr(classify(err), err)
		}
		if c.Exact && c.Width > 0 && (pw != c.Width || ph != c.Height) {
			return nil, acquireErr(UnsupportedConstraints,
				fmt.Errorf("input is %dx%d, %dx%d required", pw, ph, c.Width, c.Height))
		}
		w, h = pw, ph
	}

	// The stream outlives ctx, which only bounds the open.
	procCtx, cancel := context.WithCancel(context.Background())
	// V4L2 drivers may substitute another size; scaling keeps frames at w x h.
	cmd := utils.NewFFmpegScaledDecoder(procCtx, f.Input, w, h, inputArgs...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, acquireErr(Generic, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, acquireErr(classify(err), err)
	}

	s := &ffmpegStream{
		out:    out,
		width:  w,
		height: h,
		track:  &ffmpegTrack{id: f.Input, cmd: cmd, cancel: cancel},
	}

	// The first frame proves the device accepted the format. ffmpeg reports
	// busy or unsupported devices on stderr and exits before writing.
	type result struct {
		img image.Image
		err error
	}
	ch := make(chan result, 1)
	go func() {
		img, err := s.readFrame()
		ch <- result{img, err}
	}()
	select {
	case <-ctx.Done():
		s.track.Stop()
		return nil, acquireErr(Generic, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			s.track.Stop()
			msg := strings.TrimSpace(cmd.Stderr.String())
			f.log.Debug().Str("stderr", msg).Msg("ffmpeg exited before the first frame")
			return nil, acquireErr(classifyText(msg), fmt.Errorf("%w: %s", r.err, msg))
		}
		s.pending = r.img
	}
	return s, nil
}

type ffmpegTrack struct {
	id      string
	cmd     *utils.SafeCommand
	cancel  context.CancelFunc
	stopped atomic.Bool

	// readMu is held for every pipe read so Wait runs only after reads end.
	readMu sync.Mutex
}

func (t *ffmpegTrack) ID() string { return t.id }

func (t *ffmpegTrack) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	// The kill closes stdout, which ends any read in progress.
	t.readMu.Lock()
	defer t.readMu.Unlock()
	// Killed by cancel; the exit status carries no information.
	_ = t.cmd.Wait()
	return nil
}

func (t *ffmpegTrack) Live() bool { return !t.stopped.Load() }

type ffmpegStream struct {
	out    io.Reader
	width  int
	height int
	track  *ffmpegTrack

	mu      sync.Mutex
	pending image.Image
}

func (s *ffmpegStream) Tracks() []Track { return []Track{s.track} }

func (s *ffmpegStream) Read() (image.Image, error) {
	s.mu.Lock()
	if p := s.pending; p != nil {
		s.pending = nil
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()
	return s.readFrame()
}

func (s *ffmpegStream) readFrame() (image.Image, error) {
	s.track.readMu.Lock()
	defer s.track.readMu.Unlock()
	if !s.track.Live() {
		return nil, errTrackStopped
	}
	buf := make([]byte, s.width*s.height*4)
	if err := utils.ReadRawFrame(s.out, buf); err != nil {
		if !s.track.Live() {
			return nil, errTrackStopped
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, err
	}
	return &image.RGBA{
		Pix:    buf,
		Stride: s.width * 4,
		Rect:   image.Rect(0, 0, s.width, s.height),
	}, nil
}
