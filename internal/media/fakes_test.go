package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type readResult struct {
	img image.Image
	err error
}

type fakeTrack struct {
	id      string
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) Stop() error {
	t.stopped.Store(true)
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTrack) Live() bool { return !t.stopped.Load() }

// fakeStream yields a small frame every few milliseconds until its track is
// stopped. Scripted results pushed on reads take precedence.
type fakeStream struct {
	track  *fakeTrack
	reads  chan readResult
	period time.Duration
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{
		track:  &fakeTrack{id: id, done: make(chan struct{})},
		reads:  make(chan readResult, 8),
		period: 2 * time.Millisecond,
	}
}

func (s *fakeStream) Tracks() []Track { return []Track{s.track} }

func (s *fakeStream) Read() (image.Image, error) {
	select {
	case <-s.track.done:
		return nil, errTrackStopped
	case r := <-s.reads:
		return r.img, r.err
	case <-time.After(s.period):
		return image.NewRGBA(image.Rect(0, 0, 8, 6)), nil
	}
}

type fakeCamera struct {
	mu      sync.Mutex
	opens   []Constraints
	errs    []error
	streams []*fakeStream
	block   chan struct{}
	entered chan struct{}
}

func (c *fakeCamera) Open(ctx context.Context, cons Constraints) (Stream, error) {
	c.mu.Lock()
	c.opens = append(c.opens, cons)
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	block, entered := c.block, c.entered
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := newFakeStream(fmt.Sprintf("track-%d", len(c.streams)))
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCamera) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.opens)
}

func (c *fakeCamera) stream(i int) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[i]
}

type fakeState struct {
	mu       sync.Mutex
	ready    bool
	errKind  string
	errMsg   string
	awaiting bool
}

func (s *fakeState) SetCameraReady(r bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = r
	if r {
		s.errKind, s.errMsg = "", ""
	}
}

func (s *fakeState) SetCameraError(kind, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.errKind, s.errMsg = kind, msg
}

func (s *fakeState) ClearCameraError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errKind, s.errMsg = "", ""
}

func (s *fakeState) SetAwaitingGesture(w bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting = w
}

func (s *fakeState) snapshot() (ready bool, kind string, awaiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready, s.errKind, s.awaiting
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errDenied = errors.New("denied")
