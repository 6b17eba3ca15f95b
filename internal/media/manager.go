// Package media acquires the camera and keeps a live video stream attached
// to a Sink across retries, visibility changes and stalls.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/types"
)

// StateSink receives the camera-related UI state.
type StateSink interface {
	SetCameraReady(ready bool)
	SetCameraError(kind, message string)
	ClearCameraError()
	SetAwaitingGesture(waiting bool)
}

type SessionState int

const (
	Idle SessionState = iota
	Requesting
	Active
	Stopping
	Failed
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Session is one camera acquisition.
type Session struct {
	Constraints Constraints
	State       SessionState
	Attempt     int
	LastError   ErrorKind

	stream Stream
	tracks []Track
}

type Options struct {
	Device            types.DeviceClass
	Exact             bool
	ReleaseWhenHidden bool
	HealthInterval    time.Duration
}

// Manager owns the camera lifecycle. All mutable state lives on the struct
// and is guarded by mu.
type Manager struct {
	cam   Camera
	sink  *Sink
	state StateSink
	opts  Options
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	inflight        int
	attempts        int
	session         *Session
	awaitingGesture bool
	pendingRestart  bool // page became visible while a released start was in flight
	closed          bool
	healthCancel    context.CancelFunc
	wg              sync.WaitGroup
}

func NewManager(cam Camera, sink *Sink, st StateSink, opts Options, log zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cam:    cam,
		sink:   sink,
		state:  st,
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Sink returns the surface the camera stream is attached to.
func (m *Manager) Sink() *Sink { return m.sink }

func (m *Manager) Options() Options { return m.opts }

// Session returns a copy of the current session, if any.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// reserve claims the single in-flight start slot.
func (m *Manager) reserve() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrManagerClosed
	}
	if m.inflight > 0 {
		return false, nil
	}
	m.inflight++
	return true, nil
}

// release frees the start slot and runs a visibility restart that was
// deferred while the slot was taken.
func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = 0
	restart := m.pendingRestart && !m.closed && m.session == nil
	m.pendingRestart = false
	if restart {
		m.restartLocked()
	}
}

// restartLocked starts the camera in the background. Callers hold mu.
func (m *Manager) restartLocked() {
	m.inflight++
	m.wg.Add(1)
	m.log.Info().Msg("Page visible without a live stream, restarting camera")
	go func() {
		defer m.wg.Done()
		defer m.release()
		if err := m.start(m.ctx); err != nil {
			m.log.Debug().Err(err).Msg("Visibility restart failed")
		}
	}()
}

// Start acquires the camera and starts playback. Calls made while another
// start is in flight return nil without doing anything.
func (m *Manager) Start(ctx context.Context) error {
	ok, err := m.reserve()
	if err != nil {
		return err
	}
	if !ok {
		m.log.Debug().Msg("Camera start already in progress, ignoring")
		return nil
	}
	defer m.release()
	return m.start(ctx)
}

func (m *Manager) start(ctx context.Context) error {
	m.mu.Lock()
	prev := m.session
	m.attempts++
	sess := &Session{State: Requesting, Attempt: m.attempts}
	m.session = sess
	m.awaitingGesture = false
	m.mu.Unlock()

	m.stopHealth()
	if prev != nil {
		m.teardown(prev)
	}
	m.state.SetCameraReady(false)

	c := ConstraintsFor(m.opts.Device, m.opts.Exact)
	m.log.Info().Int("attempt", sess.Attempt).Int("width", c.Width).Int("height", c.Height).Msg("Requesting camera")
	stream, err := m.cam.Open(ctx, c)
	if err != nil && KindOf(err) == UnsupportedConstraints {
		m.log.Warn().Err(err).Msg("Camera rejected constraints, retrying with generic constraints")
		c = FallbackConstraints(m.opts.Device)
		stream, err = m.cam.Open(ctx, c)
	}
	if err != nil {
		return m.fail(sess, err)
	}

	m.mu.Lock()
	if err := m.superseded(sess); err != nil {
		m.mu.Unlock()
		stopTracks(stream.Tracks(), m.log)
		return err
	}
	sess.Constraints = c
	sess.stream = stream
	sess.tracks = stream.Tracks()
	// Attached under mu so a concurrent Stop or hide sees the stream and
	// detaches it.
	err = m.sink.Attach(stream)
	m.mu.Unlock()
	if err != nil {
		return m.fail(sess, acquireErr(PlaybackError, err))
	}
	w, h, err := m.sink.WaitMetadata(ctx)
	if err != nil {
		return m.fail(sess, acquireErr(PlaybackError, err))
	}
	m.log.Info().Int("width", w).Int("height", h).Msg("Video metadata loaded")

	return m.play(sess)
}

func (m *Manager) play(sess *Session) error {
	err := m.sink.Play()
	if err != nil && KindOf(err) == PlaybackBlocked {
		m.mu.Lock()
		m.awaitingGesture = true
		m.mu.Unlock()
		m.state.SetAwaitingGesture(true)
		m.state.SetCameraError(string(PlaybackBlocked), PlaybackBlocked.Message())
		m.log.Info().Msg("Playback blocked until user interaction")
		return err
	}
	if err != nil {
		return m.fail(sess, err)
	}

	m.mu.Lock()
	if err := m.superseded(sess); err != nil {
		m.mu.Unlock()
		return err
	}
	sess.State = Active
	m.awaitingGesture = false
	m.mu.Unlock()

	m.state.SetAwaitingGesture(false)
	m.state.SetCameraReady(true)
	m.startHealth()
	m.log.Info().Msg("Camera ready")
	return nil
}

// superseded reports whether sess is no longer the current session.
// Callers hold mu.
func (m *Manager) superseded(sess *Session) error {
	if m.closed {
		return ErrManagerClosed
	}
	if m.session != sess {
		return ErrSuperseded
	}
	return nil
}

// fail stops whatever the session acquired and records the error.
func (m *Manager) fail(sess *Session, err error) error {
	m.teardown(sess)
	kind := KindOf(err)

	m.mu.Lock()
	sess.State = Failed
	sess.LastError = kind
	closed := m.closed
	m.mu.Unlock()

	m.log.Error().Err(err).Str("kind", string(kind)).Msg("Camera acquisition failed")
	if !closed {
		m.state.SetCameraError(string(kind), kind.Message())
	}
	return err
}

// teardown stops every track of sess and detaches its stream. Safe to call
// more than once.
func (m *Manager) teardown(sess *Session) {
	m.mu.Lock()
	tracks, st := sess.tracks, sess.stream
	sess.tracks, sess.stream = nil, nil
	if sess.State == Requesting || sess.State == Active {
		sess.State = Stopping
	}
	m.mu.Unlock()

	stopTracks(tracks, m.log)
	if st != nil {
		m.sink.Detach(st)
	}

	m.mu.Lock()
	if sess.State == Stopping {
		sess.State = Idle
	}
	m.mu.Unlock()
}

func stopTracks(tracks []Track, log zerolog.Logger) {
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			log.Warn().Err(err).Str("track", t.ID()).Msg("Failed to stop track")
		}
	}
}

func (m *Manager) live() bool {
	return m.session != nil && m.session.stream != nil && anyLive(m.session.tracks)
}

// NotifyInteraction records a user gesture (click, touch, key). Playback
// blocked by the autoplay policy resumes; a missing stream is started.
func (m *Manager) NotifyInteraction(ctx context.Context) error {
	m.sink.Gesture()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	waiting := m.awaitingGesture
	sess := m.session
	live := m.live()
	m.mu.Unlock()

	if waiting && sess != nil {
		m.log.Info().Msg("Resuming playback after user interaction")
		return m.play(sess)
	}
	if !live {
		return m.Start(ctx)
	}
	return nil
}

// Retry is the manual retry action: it clears the surfaced error and starts
// the camera if it is not running.
func (m *Manager) Retry(ctx context.Context) error {
	m.state.ClearCameraError()
	return m.NotifyInteraction(ctx)
}

// SetVisible handles page visibility changes. Hidden releases the camera when
// configured to; visible restarts it once if no live stream exists.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	if !visible {
		m.pendingRestart = false
		if !m.opts.ReleaseWhenHidden || m.session == nil {
			m.mu.Unlock()
			return
		}
		sess := m.session
		m.session = nil
		m.awaitingGesture = false
		m.mu.Unlock()

		m.log.Info().Msg("Page hidden, releasing camera")
		m.stopHealth()
		m.teardown(sess)
		m.state.SetCameraReady(false)
		return
	}

	if m.live() {
		m.mu.Unlock()
		return
	}
	if m.inflight > 0 {
		// The in-flight start lost its session to a hide and will abort;
		// restart once it settles.
		if m.session == nil {
			m.pendingRestart = true
		}
		m.mu.Unlock()
		return
	}
	m.restartLocked()
	m.mu.Unlock()
}

func (m *Manager) startHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.healthCancel != nil || m.opts.HealthInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.healthCancel = cancel
	m.wg.Add(1)
	go m.healthLoop(ctx)
}

func (m *Manager) stopHealth() {
	m.mu.Lock()
	cancel := m.healthCancel
	m.healthCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// healthLoop re-invokes Play whenever the frame clock stops advancing.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.HealthInterval)
	defer t.Stop()

	last := m.sink.Seq()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		seq := m.sink.Seq()
		if seq == last && m.sink.Attached() {
			m.mu.Lock()
			waiting := m.awaitingGesture
			m.mu.Unlock()
			if !waiting {
				m.log.Warn().Uint64("seq", seq).Msg("Frame clock stalled, resuming playback")
				if err := m.sink.Play(); err != nil {
					m.log.Warn().Err(err).Msg("Resume failed")
				}
			}
		}
		last = seq
	}
}

// Stop releases the camera on every path and ignores later visibility
// events. The Manager cannot be restarted.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sess := m.session
	m.session = nil
	m.mu.Unlock()

	m.cancel()
	m.stopHealth()
	if sess != nil {
		m.teardown(sess)
	}
	m.wg.Wait()
	m.sink.Detach(nil)
	m.state.SetCameraReady(false)
	m.log.Info().Msg("Camera stopped")
}
