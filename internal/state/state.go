// Package state holds the view state shared between the camera, the
// detector, the compositor and the UI surface.
package state

import (
	"fmt"
	"sync"

	"github.com/andresmejia3/tryon/internal/types"
)

// CameraError is the last categorized camera failure shown to the user.
type CameraError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// View is a point-in-time copy of the shared state.
type View struct {
	CameraReady     bool         `json:"cameraReady"`
	FaceDetected    bool         `json:"faceDetected"`
	SelectedShade   *types.Shade `json:"selectedShade,omitempty"`
	Degraded        bool         `json:"degraded"`
	AwaitingGesture bool         `json:"awaitingGesture"`
	CameraError     *CameraError `json:"cameraError,omitempty"`
}

// DegradedNotice is shown while the fixed-region overlay replaces tracking.
const DegradedNotice = "Simplified mode: face tracking is unavailable on this device."

// Status returns the status line the UI shows for v.
func (v View) Status() string {
	switch {
	case !v.CameraReady && v.CameraError != nil:
		return v.CameraError.Message
	case !v.CameraReady:
		return "Initializing Camera..."
	case !v.FaceDetected:
		return "Align your face in the camera view."
	case v.SelectedShade == nil:
		return "Face detected! Try selecting a shade below."
	default:
		return fmt.Sprintf("Applying shade: %s", v.SelectedShade.Name)
	}
}

// Store is the observable state container. Subscribers receive a copy of
// the state after every change; slow subscribers miss intermediate values.
type Store struct {
	mu     sync.RWMutex
	view   View
	subs   map[int]chan View
	nextID int
}

func New() *Store {
	return &Store{subs: make(map[int]chan View)}
}

// update applies fn under the write lock and notifies subscribers if the
// state changed.
func (s *Store) update(fn func(v *View)) {
	s.mu.Lock()
	before := s.view
	fn(&s.view)
	changed := !equal(before, s.view)
	after := s.view
	if changed {
		for _, ch := range s.subs {
			select {
			case ch <- after:
			default:
			}
		}
	}
	s.mu.Unlock()
}

func equal(a, b View) bool {
	if a.CameraReady != b.CameraReady || a.FaceDetected != b.FaceDetected ||
		a.Degraded != b.Degraded || a.AwaitingGesture != b.AwaitingGesture {
		return false
	}
	if (a.SelectedShade == nil) != (b.SelectedShade == nil) {
		return false
	}
	if a.SelectedShade != nil && *a.SelectedShade != *b.SelectedShade {
		return false
	}
	if (a.CameraError == nil) != (b.CameraError == nil) {
		return false
	}
	return a.CameraError == nil || *a.CameraError == *b.CameraError
}

func (s *Store) SetCameraReady(ready bool) {
	s.update(func(v *View) {
		v.CameraReady = ready
		if ready {
			v.CameraError = nil
			v.AwaitingGesture = false
		}
	})
}

// SetFaceDetected records whether the last tick rendered a face region.
// While degraded the flag stays true.
func (s *Store) SetFaceDetected(detected bool) {
	s.update(func(v *View) {
		if v.Degraded {
			v.FaceDetected = true
			return
		}
		v.FaceDetected = detected
	})
}

// SetSelectedShade selects sh, or clears the selection when sh is nil.
func (s *Store) SetSelectedShade(sh *types.Shade) {
	s.update(func(v *View) {
		if sh == nil {
			v.SelectedShade = nil
			return
		}
		c := *sh
		v.SelectedShade = &c
	})
}

// SetDegraded switches the UI into simplified mode. It cannot be undone.
func (s *Store) SetDegraded() {
	s.update(func(v *View) {
		v.Degraded = true
		v.FaceDetected = true
	})
}

func (s *Store) SetCameraError(kind, message string) {
	s.update(func(v *View) {
		v.CameraReady = false
		v.CameraError = &CameraError{Kind: kind, Message: message}
	})
}

func (s *Store) ClearCameraError() {
	s.update(func(v *View) { v.CameraError = nil })
}

func (s *Store) SetAwaitingGesture(waiting bool) {
	s.update(func(v *View) { v.AwaitingGesture = waiting })
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Subscribe registers a listener. The returned channel is buffered by one
// and closed by Unsubscribe.
func (s *Store) Subscribe() (int, <-chan View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan View, 1)
	s.subs[id] = ch
	return id, ch
}

func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}
