package detector

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/degrade"
	"github.com/andresmejia3/tryon/internal/types"
)

type fakeModel struct {
	mu        sync.Mutex
	loadErrs  []error
	loadBlock bool
	loads     int
	cfg       Config

	detect  func(ctx context.Context) (types.LandmarkFrame, error)
	release chan struct{}
	closed  atomic.Bool
}

func (m *fakeModel) Load(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	m.loads++
	m.cfg = cfg
	var err error
	if len(m.loadErrs) > 0 {
		err, m.loadErrs = m.loadErrs[0], m.loadErrs[1:]
	}
	block := m.loadBlock
	m.mu.Unlock()
	if block {
		select {} // ignores cancellation on purpose
	}
	return err
}

func (m *fakeModel) Detect(ctx context.Context, frame *image.RGBA) (types.LandmarkFrame, error) {
	if m.release != nil {
		<-m.release
	}
	if m.detect != nil {
		return m.detect(ctx)
	}
	return types.LandmarkFrame{Points: []types.Point{{X: 0.5, Y: 0.5}}}, nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *fakeModel) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

type faceRecorder struct {
	mu   sync.Mutex
	last *bool
}

func (f *faceRecorder) SetFaceDetected(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &b
}

func newTestSession(m Model, opts Options) (*Session, *degrade.Controller, *faceRecorder) {
	ctrl := degrade.NewController(3, zerolog.Nop())
	faces := &faceRecorder{}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 2
	}
	if opts.InitTimeout == 0 {
		opts.InitTimeout = time.Second
	}
	return NewSession(m, opts, ctrl, faces, zerolog.Nop()), ctrl, faces
}

func frame() *image.RGBA { return image.NewRGBA(image.Rect(0, 0, 4, 4)) }

func TestInitializeSuccess(t *testing.T) {
	m := &fakeModel{loadErrs: []error{errors.New("flaky")}}
	s, ctrl, _ := newTestSession(m, Options{Config: Config{Refine: true, DetectionConfidence: 0.5}})

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if s.Status() != Ready || ctrl.Mode() != degrade.Ready {
		t.Errorf("status=%s mode=%s", s.Status(), ctrl.Mode())
	}
	if m.loadCount() != 2 {
		t.Errorf("loads = %d, want 2", m.loadCount())
	}
	if m.cfg.MaxFaces != 1 || !m.cfg.Refine {
		t.Errorf("config passed to model = %+v", m.cfg)
	}
}

func TestInitializeExhaustedEngagesFallback(t *testing.T) {
	m := &fakeModel{loadErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	s, ctrl, _ := newTestSession(m, Options{MaxAttempts: 2})

	err := s.Initialize(context.Background())
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("Initialize = %v, want ErrModelLoad", err)
	}
	if m.loadCount() != 2 {
		t.Errorf("loads = %d, want exactly 2 attempts", m.loadCount())
	}
	if !ctrl.Engaged() || ctrl.Reason() != degrade.ReasonInitExhausted {
		t.Errorf("engaged=%v reason=%s", ctrl.Engaged(), ctrl.Reason())
	}
	if s.Status() != FallbackEngaged {
		t.Errorf("status = %s, want fallback", s.Status())
	}
	if _, ok := s.Submit(context.Background(), frame()); ok {
		t.Error("Submit must be refused in fallback")
	}
}

func TestInitializeTimeout(t *testing.T) {
	m := &fakeModel{loadBlock: true}
	s, ctrl, _ := newTestSession(m, Options{InitTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := s.Initialize(context.Background())
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("Initialize = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not enforced")
	}
	if ctrl.Reason() != degrade.ReasonInitTimeout {
		t.Errorf("reason = %s, want init-timeout", ctrl.Reason())
	}
}

func TestInitializeCancelledDoesNotEngage(t *testing.T) {
	m := &fakeModel{loadBlock: true}
	s, ctrl, _ := newTestSession(m, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Initialize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Initialize = %v, want context.Canceled", err)
	}
	if ctrl.Engaged() {
		t.Error("shutdown must not engage fallback")
	}
}

func TestSubmitSingleOutstanding(t *testing.T) {
	m := &fakeModel{release: make(chan struct{})}
	s, _, faces := newTestSession(m, Options{})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch, ok := s.Submit(context.Background(), frame())
	if !ok {
		t.Fatal("first Submit refused")
	}
	if _, ok := s.Submit(context.Background(), frame()); ok {
		t.Fatal("second Submit accepted while busy")
	}

	close(m.release)
	res := <-ch
	if res.Err != nil || !res.Frame.HasFace() {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := s.Latest(); !ok {
		t.Error("Latest should hold the result")
	}
	faces.mu.Lock()
	if faces.last == nil || !*faces.last {
		t.Error("face presence not reported")
	}
	faces.mu.Unlock()

	if _, ok := s.Submit(context.Background(), frame()); !ok {
		t.Error("Submit refused after the previous one completed")
	}
	s.Close()
}

func TestFatalFrameErrorsEscalate(t *testing.T) {
	m := &fakeModel{detect: func(context.Context) (types.LandmarkFrame, error) {
		return types.LandmarkFrame{}, ErrModelState
	}}
	s, ctrl, _ := newTestSession(m, Options{})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		ch, ok := s.Submit(context.Background(), frame())
		if !ok {
			t.Fatalf("submit %d refused", i)
		}
		<-ch
	}
	if !ctrl.Engaged() || ctrl.Reason() != degrade.ReasonFatalFrames {
		t.Fatalf("engaged=%v reason=%s", ctrl.Engaged(), ctrl.Reason())
	}
	if s.Status() != FallbackEngaged {
		t.Errorf("status = %s", s.Status())
	}
}

func TestTransientErrorDropsFrame(t *testing.T) {
	m := &fakeModel{detect: func(context.Context) (types.LandmarkFrame, error) {
		return types.LandmarkFrame{}, errors.New("blurry")
	}}
	s, ctrl, _ := newTestSession(m, Options{})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		ch, _ := s.Submit(context.Background(), frame())
		<-ch
	}
	if ctrl.Engaged() {
		t.Error("transient errors must not engage fallback")
	}
	if _, ok := s.Latest(); ok {
		t.Error("failed frames must not replace Latest")
	}
}

func TestCloseWaitsForOutstanding(t *testing.T) {
	m := &fakeModel{release: make(chan struct{})}
	s, _, _ := newTestSession(m, Options{})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch, _ := s.Submit(context.Background(), frame())

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned with a submission outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	close(m.release)
	<-ch
	<-closed
	if !m.closed.Load() {
		t.Error("model not closed")
	}
	if _, ok := s.Submit(context.Background(), frame()); ok {
		t.Error("Submit accepted after Close")
	}
}
