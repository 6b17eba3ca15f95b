// Package pipeline supervises a live try-on session. It owns the camera
// manager, the detector session and the compositor, and drives them from a
// single render loop.
package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/compositor"
	"github.com/andresmejia3/tryon/internal/degrade"
	"github.com/andresmejia3/tryon/internal/detector"
	"github.com/andresmejia3/tryon/internal/logging"
	"github.com/andresmejia3/tryon/internal/media"
	"github.com/andresmejia3/tryon/internal/state"
	"github.com/andresmejia3/tryon/internal/types"
)

const DefaultFPS = 30

type Options struct {
	FPS            int
	RequireGesture bool
	FatalThreshold int
	Camera         media.Options
	Detector       detector.Options
	Compositor     compositor.Options
}

// Stats counts render loop activity.
type Stats struct {
	Ticks     uint64
	Drawn     uint64
	Skipped   uint64
	Submitted uint64
}

// Pipeline is one live session. Start it once, then Close it.
type Pipeline struct {
	state    *state.Store
	sink     *media.Sink
	manager  *media.Manager
	ctrl     *degrade.Controller
	detector *detector.Session
	comp     *compositor.Compositor
	interval time.Duration
	log      zerolog.Logger

	alive   atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once

	// owned by the render loop
	lastSubmitted uint64
	submitted     bool

	ticks, drawn, skipped, submits atomic.Uint64
}

// New wires cam and model into a pipeline that publishes to st and draws on
// canvas.
func New(cam media.Camera, model detector.Model, canvas compositor.Canvas, st *state.Store, opts Options, log zerolog.Logger) *Pipeline {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.Compositor.SkipInterval == 0 {
		opts.Compositor.SkipInterval = degrade.IntervalFor(opts.Camera.Device)
	}

	ctrl := degrade.NewController(opts.FatalThreshold, logging.Component(log, "degrade"))
	ctrl.OnFallback(func(r degrade.Reason) {
		log.Warn().Str("reason", string(r)).Msg("Switching to simplified mode")
		st.SetDegraded()
	})

	sink := media.NewSink(opts.RequireGesture, logging.Component(log, "sink"))
	p := &Pipeline{
		state:    st,
		sink:     sink,
		manager:  media.NewManager(cam, sink, st, opts.Camera, logging.Component(log, "camera")),
		ctrl:     ctrl,
		detector: detector.NewSession(model, opts.Detector, ctrl, st, logging.Component(log, "detector")),
		comp:     compositor.New(canvas, opts.Compositor, st, logging.Component(log, "compositor")),
		interval: time.Second / time.Duration(opts.FPS),
		log:      log,
	}
	return p
}

// Start launches camera acquisition, detector initialization and the render
// loop. It does not block.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pipeline already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.alive.Store(true)

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		if err := p.manager.Start(ctx); err != nil {
			p.cameraFailed(err)
		}
	}()
	go func() {
		defer p.wg.Done()
		if err := p.detector.Initialize(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("Face model unavailable")
		}
	}()
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()

	p.log.Info().Int("fps", int(time.Second/p.interval)).Str("device", string(p.deviceClass())).Msg("Pipeline started")
	return nil
}

func (p *Pipeline) deviceClass() types.DeviceClass {
	return p.manager.Options().Device
}

// cameraFailed records a camera error. The manager already published it to
// the state store; playback waiting on a gesture is not a failure.
func (p *Pipeline) cameraFailed(err error) {
	kind := media.KindOf(err)
	switch {
	case errors.Is(err, media.ErrManagerClosed), errors.Is(err, media.ErrSuperseded), errors.Is(err, context.Canceled):
		return
	case kind == media.PlaybackBlocked:
		p.log.Info().Msg("Waiting for user interaction to start video")
	default:
		p.log.Error().Err(err).Str("kind", string(kind)).Msg("Camera unavailable")
	}
}

// Run starts the pipeline and blocks until ctx is done, then closes it.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return p.Close()
}

func (p *Pipeline) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one render step: draw the latest frame with the latest
// landmarks, then hand the frame to the detector if it is idle.
func (p *Pipeline) Tick(ctx context.Context) compositor.TickResult {
	if !p.alive.Load() {
		return compositor.TickResult{}
	}
	p.ticks.Add(1)

	frame, seq, ok := p.sink.CurrentFrame()
	fallback := p.ctrl.Engaged()

	var lm *types.LandmarkFrame
	if !fallback {
		if lf, ok := p.detector.Latest(); ok {
			lm = &lf
		}
	}

	view := p.state.Snapshot()
	res := p.comp.Tick(compositor.Input{
		Frame:     frame,
		Landmarks: lm,
		Shade:     view.SelectedShade,
		Fallback:  fallback,
	})
	if res.Skipped {
		p.skipped.Add(1)
		return res
	}
	if res.Drawn {
		p.drawn.Add(1)
	}

	if ok && !fallback && (!p.submitted || seq != p.lastSubmitted) {
		if _, accepted := p.detector.Submit(ctx, frame); accepted {
			p.lastSubmitted, p.submitted = seq, true
			p.submits.Add(1)
		}
	}
	return res
}

// Close stops the render loop, the detector and the camera. It is safe to
// call more than once.
func (p *Pipeline) Close() error {
	var err error
	p.once.Do(func() {
		p.alive.Store(false)
		if p.cancel != nil {
			p.cancel()
		}
		p.manager.Stop()
		p.wg.Wait()
		err = p.detector.Close()
		p.log.Info().Uint64("ticks", p.ticks.Load()).Uint64("drawn", p.drawn.Load()).Msg("Pipeline closed")
	})
	return err
}

// Retry is the manual camera retry action.
func (p *Pipeline) Retry(ctx context.Context) error {
	return p.manager.Retry(ctx)
}

// NotifyInteraction forwards a user gesture to the camera manager.
func (p *Pipeline) NotifyInteraction(ctx context.Context) error {
	return p.manager.NotifyInteraction(ctx)
}

// SetVisible forwards page visibility changes.
func (p *Pipeline) SetVisible(visible bool) {
	p.manager.SetVisible(visible)
}

// Snapshot returns a copy of the output surface.
func (p *Pipeline) Snapshot() *image.RGBA {
	return p.comp.Snapshot()
}

func (p *Pipeline) State() *state.Store { return p.state }

func (p *Pipeline) Mode() degrade.Mode { return p.ctrl.Mode() }

func (p *Pipeline) DetectorStatus() detector.Status { return p.detector.Status() }

func (p *Pipeline) Camera() (media.Session, bool) { return p.manager.Session() }

func (p *Pipeline) Stats() Stats {
	return Stats{
		Ticks:     p.ticks.Load(),
		Drawn:     p.drawn.Load(),
		Skipped:   p.skipped.Load(),
		Submitted: p.submits.Load(),
	}
}
