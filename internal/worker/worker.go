// Package worker runs the MediaPipe face-mesh model in a Python subprocess
// and exposes it as a detector model.
package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/tryon/internal/detector"
	"github.com/andresmejia3/tryon/internal/types"
	"github.com/andresmejia3/tryon/internal/utils" // Using the SafeCommand wrapper
)

// Response status codes written by the worker script.
const (
	statusOK        = 0
	statusTransient = 1
	statusFatal     = 2
)

// maxResponse bounds a single response; 468 points encode to well under 64KB.
const maxResponse = 16 << 20

const exitGrace = 2 * time.Second

type request struct {
	Op                  string  `msgpack:"op"`
	MaxFaces            int     `msgpack:"max_faces,omitempty"`
	Refine              bool    `msgpack:"refine,omitempty"`
	DetectionConfidence float64 `msgpack:"detection_confidence,omitempty"`
	TrackingConfidence  float64 `msgpack:"tracking_confidence,omitempty"`
	Width               int     `msgpack:"width,omitempty"`
	Height              int     `msgpack:"height,omitempty"`
	Pixels              []byte  `msgpack:"pixels,omitempty"`
}

type response struct {
	Status int           `msgpack:"status"`
	Error  string        `msgpack:"error"`
	Points []types.Point `msgpack:"points"`
}

// MeshWorker is a detector.Model backed by python/mesh_worker.py. Requests
// go over stdin; responses come back on a side-channel pipe (FD 3) so Python
// logging on stdout/stderr cannot corrupt the stream.
type MeshWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	python      string
	script      string
	readTimeout time.Duration
	log         zerolog.Logger

	mu sync.Mutex
}

func NewMeshWorker(id int, python, script string, readTimeout time.Duration, log zerolog.Logger) *MeshWorker {
	return &MeshWorker{
		ID:          id,
		python:      python,
		script:      script,
		readTimeout: readTimeout,
		log:         log,
	}
}

// start spawns the Python process. Callers hold mu.
func (w *MeshWorker) start() error {
	// The process outlives the Load context; Close terminates it.
	py := utils.NewSafeCommand(context.Background(), w.python, "-u", w.script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{pw}

	stdin, err := py.StdinPipe()
	if err != nil {
		pw.Close() // Prevent FD leak
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Close the write-end in the parent so only the child holds it
	pw.Close()

	w.Cmd = py
	w.Stdin = stdin
	w.DataPipe = r
	return nil
}

// Load starts the worker if needed and configures the face mesh.
func (w *MeshWorker) Load(ctx context.Context, cfg detector.Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Stdin == nil {
		if err := w.start(); err != nil {
			return fmt.Errorf("%w: %v", detector.ErrModelLoad, err)
		}
	}

	resp, err := w.communicate(ctx, request{
		Op:                  "init",
		MaxFaces:            cfg.MaxFaces,
		Refine:              cfg.Refine,
		DetectionConfidence: cfg.DetectionConfidence,
		TrackingConfidence:  cfg.TrackingConfidence,
	})
	if err == nil && resp.Status != statusOK {
		err = errors.New(resp.Error)
	}
	if err != nil {
		if w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
			w.log.Debug().Str("stderr", w.Cmd.Stderr.String()).Msg("Worker output")
		}
		// The next attempt gets a fresh process.
		w.closeLocked()
		return fmt.Errorf("%w: %v", detector.ErrModelLoad, err)
	}
	return nil
}

// Detect sends one RGBA frame and returns the landmarks of the first face.
func (w *MeshWorker) Detect(ctx context.Context, frame *image.RGBA) (types.LandmarkFrame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	width, height := frame.Rect.Dx(), frame.Rect.Dy()
	out := types.LandmarkFrame{Width: width, Height: height, CapturedAt: time.Now()}
	if w.Stdin == nil {
		return out, fmt.Errorf("%w: worker not running", detector.ErrModelState)
	}

	pixels := frame.Pix
	if frame.Stride != width*4 {
		pixels = make([]byte, 0, width*height*4)
		for y := 0; y < height; y++ {
			off := y * frame.Stride
			pixels = append(pixels, frame.Pix[off:off+width*4]...)
		}
	}

	resp, err := w.communicate(ctx, request{Op: "frame", Width: width, Height: height, Pixels: pixels})
	if err != nil {
		// A broken pipe or timeout leaves the stream out of sync.
		return out, fmt.Errorf("%w: %v", detector.ErrModelState, err)
	}
	switch resp.Status {
	case statusOK:
		out.Points = resp.Points
		return out, nil
	case statusTransient:
		return out, fmt.Errorf("worker dropped frame: %s", resp.Error)
	default:
		return out, fmt.Errorf("%w: %s", detector.ErrModelState, resp.Error)
	}
}

func (w *MeshWorker) communicate(ctx context.Context, req request) (response, error) {
	var resp response
	body, err := msgpack.Marshal(&req)
	if err != nil {
		return resp, err
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(body))); err != nil {
		return resp, err
	}
	if _, err := w.Stdin.Write(body); err != nil {
		return resp, err
	}

	w.setDeadline(ctx)

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return resp, err // This is where we catch an import error crash
	}
	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return resp, fmt.Errorf("response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return resp, err
	}
	if err := msgpack.Unmarshal(respBody, &resp); err != nil {
		return resp, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

// setDeadline bounds the next read when the pipe supports deadlines.
func (w *MeshWorker) setDeadline(ctx context.Context) {
	f, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error })
	if !ok {
		return
	}
	var deadline time.Time
	if w.readTimeout > 0 {
		deadline = time.Now().Add(w.readTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = f.SetReadDeadline(deadline)
}

func (w *MeshWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
	return nil
}

func (w *MeshWorker) closeLocked() {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil {
		// Closing stdin makes the script exit its read loop.
		done := make(chan struct{})
		go func(c *utils.SafeCommand) {
			_ = c.Wait()
			close(done)
		}(w.Cmd)
		select {
		case <-done:
		case <-time.After(exitGrace):
			w.log.Warn().Int("worker", w.ID).Msg("Worker did not exit, killing")
			_ = w.Cmd.Process.Kill()
			<-done
		}
	}
	w.Stdin, w.DataPipe, w.Cmd = nil, nil, nil
}
