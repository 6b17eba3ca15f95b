// Package detector adapts face landmark models to the render loop: it
// initializes the model with bounded retries and serializes per-frame
// submissions.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/degrade"
	"github.com/andresmejia3/tryon/internal/types"
)

var (
	// ErrModelState means the model is unusable (crashed, closed, corrupt).
	ErrModelState = errors.New("model state error")
	// ErrModelLoad means the model could not be loaded.
	ErrModelLoad = errors.New("model load error")
)

// IsFatal reports whether err should escalate to the degradation controller
// rather than just dropping the frame.
func IsFatal(err error) bool {
	return errors.Is(err, ErrModelState) || errors.Is(err, ErrModelLoad)
}

// Config is passed to Model.Load.
type Config struct {
	MaxFaces            int
	Refine              bool
	DetectionConfidence float64
	TrackingConfidence  float64
}

// Model is a face landmark model.
type Model interface {
	Load(ctx context.Context, cfg Config) error
	Detect(ctx context.Context, frame *image.RGBA) (types.LandmarkFrame, error)
	Close() error
}

type Status int

const (
	Loading Status = iota
	Ready
	Failed
	FallbackEngaged
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case FallbackEngaged:
		return "fallback"
	}
	return "unknown"
}

// FaceReporter receives per-result face presence.
type FaceReporter interface {
	SetFaceDetected(bool)
}

type Options struct {
	Config      Config
	MaxAttempts int
	InitTimeout time.Duration
	RetryDelay  time.Duration
}

// Result is the outcome of one submission.
type Result struct {
	Frame types.LandmarkFrame
	Err   error
}

// Session owns a Model for the lifetime of the pipeline. At most one
// submission is outstanding at a time.
type Session struct {
	model Model
	opts  Options
	ctrl  *degrade.Controller
	faces FaceReporter
	log   zerolog.Logger

	busy atomic.Bool
	wg   sync.WaitGroup

	mu        sync.RWMutex
	status    Status
	closed    bool
	latest    types.LandmarkFrame
	hasLatest bool
}

// NewSession wires model to ctrl. faces may be nil.
func NewSession(model Model, opts Options, ctrl *degrade.Controller, faces FaceReporter, log zerolog.Logger) *Session {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Config.MaxFaces < 1 {
		opts.Config.MaxFaces = 1
	}
	s := &Session{model: model, opts: opts, ctrl: ctrl, faces: faces, log: log}
	ctrl.OnFallback(func(degrade.Reason) { s.setStatus(FallbackEngaged) })
	return s
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == FallbackEngaged {
		return
	}
	s.status = st
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Initialize loads the model, retrying up to MaxAttempts times within
// InitTimeout. On failure fallback is engaged and an ErrModelLoad error is
// returned. Cancelling ctx aborts without engaging fallback.
func (s *Session) Initialize(ctx context.Context) error {
	initCtx := ctx
	if s.opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, s.opts.InitTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		s.log.Info().Int("attempt", attempt).Bool("refine", s.opts.Config.Refine).
			Float64("confidence", s.opts.Config.DetectionConfidence).Msg("Loading face model")

		lastErr = s.load(initCtx)
		if lastErr == nil {
			s.setStatus(Ready)
			s.ctrl.MarkReady()
			return nil
		}
		s.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("Face model failed to load")

		if initCtx.Err() != nil || attempt == s.opts.MaxAttempts {
			break
		}
		select {
		case <-initCtx.Done():
		case <-time.After(s.opts.RetryDelay):
		}
		if initCtx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.setStatus(Failed)
	reason := degrade.ReasonInitExhausted
	if errors.Is(initCtx.Err(), context.DeadlineExceeded) {
		reason = degrade.ReasonInitTimeout
	}
	s.ctrl.Engage(reason)
	return fmt.Errorf("%w: %s: %v", ErrModelLoad, reason, lastErr)
}

// load runs Model.Load but gives up when ctx ends even if the model ignores
// cancellation.
func (s *Session) load(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.model.Load(ctx, s.opts.Config) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit starts asynchronous detection on frame. It returns false without
// doing anything when the session is not Ready or a submission is already
// outstanding. The channel yields exactly one Result.
func (s *Session) Submit(ctx context.Context, frame *image.RGBA) (<-chan Result, bool) {
	s.mu.Lock()
	if s.closed || s.status != Ready {
		s.mu.Unlock()
		return nil, false
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil, false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ch := make(chan Result, 1)
	go func() {
		defer s.wg.Done()
		lf, err := s.model.Detect(ctx, frame)
		s.handle(lf, err)
		s.busy.Store(false)
		ch <- Result{Frame: lf, Err: err}
		close(ch)
	}()
	return ch, true
}

func (s *Session) handle(lf types.LandmarkFrame, err error) {
	if err != nil {
		if IsFatal(err) {
			s.log.Error().Err(err).Msg("Detector failed")
			s.ctrl.RecordFrameError(true)
		} else {
			s.log.Debug().Err(err).Msg("Frame dropped")
			s.ctrl.RecordFrameError(false)
		}
		return
	}
	s.ctrl.RecordFrameSuccess()

	s.mu.Lock()
	s.latest = lf
	s.hasLatest = true
	s.mu.Unlock()

	if s.faces != nil {
		s.faces.SetFaceDetected(lf.HasFace())
	}
}

// Busy reports whether a submission is outstanding.
func (s *Session) Busy() bool { return s.busy.Load() }

// Latest returns the most recent successful result. It may lag the frame
// being drawn by one or more ticks.
func (s *Session) Latest() (types.LandmarkFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Close waits for the outstanding submission and releases the model.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return s.model.Close()
}

// Disabled is a Model that never loads. Sessions using it go straight to the
// fixed-region overlay.
type Disabled struct{}

func (Disabled) Load(context.Context, Config) error {
	return fmt.Errorf("%w: face tracking disabled", ErrModelLoad)
}

func (Disabled) Detect(context.Context, *image.RGBA) (types.LandmarkFrame, error) {
	return types.LandmarkFrame{}, ErrModelState
}

func (Disabled) Close() error { return nil }
