package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/shade"
	"github.com/andresmejia3/tryon/internal/snapshot"
	"github.com/andresmejia3/tryon/internal/state"
	"github.com/andresmejia3/tryon/internal/types"
)

type fakeControls struct {
	mu           sync.Mutex
	retries      int
	interactions int
	visible      []bool
	img          *image.RGBA
	called       chan string
}

func newFakeControls() *fakeControls {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	img.SetRGBA(0, 0, color.RGBA{178, 143, 114, 255})
	return &fakeControls{img: img, called: make(chan string, 4)}
}

func (f *fakeControls) Retry(ctx context.Context) error {
	f.mu.Lock()
	f.retries++
	f.mu.Unlock()
	f.called <- "retry"
	return nil
}

func (f *fakeControls) NotifyInteraction(ctx context.Context) error {
	f.mu.Lock()
	f.interactions++
	f.mu.Unlock()
	f.called <- "interaction"
	return nil
}

func (f *fakeControls) SetVisible(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = append(f.visible, v)
}

func (f *fakeControls) Snapshot() *image.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.img
}

type testEnv struct {
	server   *Server
	state    *state.Store
	catalog  *shade.Catalog
	controls *fakeControls
}

func newTestEnv(t *testing.T, exporter *snapshot.Exporter) *testEnv {
	t.Helper()
	cat, err := shade.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	st := state.New()
	ctl := newFakeControls()
	s := NewServer(st, cat, ctl, exporter, Options{StreamFPS: 100}, zerolog.Nop())
	t.Cleanup(func() { s.cancel() })
	return &testEnv{server: s, state: st, catalog: cat, controls: ctl}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, recorder.Code, recorder.Body.String())
	}
}

func TestGetState(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/state", "")
	assertStatusCode(t, rec, http.StatusOK)
	var got stateResponse
	parseJSONResponse(t, rec, &got)
	if got.Status != "Initializing Camera..." || got.CameraReady {
		t.Errorf("unexpected state %+v", got)
	}

	env.state.SetCameraError("PermissionDenied", "Camera access denied.")
	env.state.SetDegraded()
	rec = env.do(t, http.MethodGet, "/api/state", "")
	parseJSONResponse(t, rec, &got)
	if got.CameraError == nil || got.CameraError.Kind != "PermissionDenied" {
		t.Errorf("camera error = %+v", got.CameraError)
	}
	if got.Status != "Camera access denied." || got.Notice != state.DegradedNotice {
		t.Errorf("status = %q notice = %q", got.Status, got.Notice)
	}
}

func TestShadeEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/shades", "")
	assertStatusCode(t, rec, http.StatusOK)
	var shades []types.Shade
	parseJSONResponse(t, rec, &shades)
	if len(shades) != 24 {
		t.Fatalf("got %d shades, want 24", len(shades))
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"name":"Mine","colorHex":"#a1b2c3"}`, http.StatusCreated},
		{"bad color", `{"name":"Mine","colorHex":"blue"}`, http.StatusBadRequest},
		{"no name", `{"name":"  ","colorHex":"#fff"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/shades", tt.body)
			assertStatusCode(t, rec, tt.status)
		})
	}
	if n := len(env.catalog.All()); n != 25 {
		t.Errorf("catalog has %d shades, want 25", n)
	}

	rec = env.do(t, http.MethodPut, "/api/shades/selected", `{"id":"13"}`)
	assertStatusCode(t, rec, http.StatusOK)
	var got stateResponse
	parseJSONResponse(t, rec, &got)
	if got.SelectedShade == nil || got.SelectedShade.Name != "Amber" || got.SelectedShade.ColorHex != "#B28F72" {
		t.Errorf("selected = %+v", got.SelectedShade)
	}

	rec = env.do(t, http.MethodPut, "/api/shades/selected", `{"id":"nope"}`)
	assertStatusCode(t, rec, http.StatusNotFound)
	if env.state.Snapshot().SelectedShade == nil {
		t.Error("unknown id cleared the selection")
	}

	rec = env.do(t, http.MethodPut, "/api/shades/selected", `{"id":""}`)
	assertStatusCode(t, rec, http.StatusOK)
	if env.state.Snapshot().SelectedShade != nil {
		t.Error("empty id did not clear the selection")
	}
}

func TestCameraControls(t *testing.T) {
	env := newTestEnv(t, nil)

	assertStatusCode(t, env.do(t, http.MethodPost, "/api/camera/retry", ""), http.StatusAccepted)
	assertStatusCode(t, env.do(t, http.MethodPost, "/api/interaction", ""), http.StatusAccepted)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-env.controls.called:
			seen[c] = true
		case <-time.After(time.Second):
			t.Fatal("control action not invoked")
		}
	}
	if !seen["retry"] || !seen["interaction"] {
		t.Errorf("invoked %v", seen)
	}

	assertStatusCode(t, env.do(t, http.MethodPost, "/api/visibility", `{"visible":false}`), http.StatusNoContent)
	assertStatusCode(t, env.do(t, http.MethodPost, "/api/visibility", `{"visible":true}`), http.StatusNoContent)
	assertStatusCode(t, env.do(t, http.MethodPost, "/api/visibility", `nope`), http.StatusBadRequest)
	env.controls.mu.Lock()
	defer env.controls.mu.Unlock()
	if len(env.controls.visible) != 2 || env.controls.visible[0] || !env.controls.visible[1] {
		t.Errorf("visibility calls = %v", env.controls.visible)
	}
}

func TestDownloadSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/snapshot.png", "")
	assertStatusCode(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, snapshot.DefaultFilename) {
		t.Errorf("content disposition = %q", cd)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("bounds = %v", img.Bounds())
	}

	env.controls.img = image.NewRGBA(image.Rectangle{})
	assertStatusCode(t, env.do(t, http.MethodGet, "/api/snapshot.png", ""), http.StatusServiceUnavailable)
}

func TestSaveSnapshot(t *testing.T) {
	assertStatusCode(t, newTestEnv(t, nil).do(t, http.MethodPost, "/api/snapshots", ""), http.StatusNotImplemented)

	dir := t.TempDir()
	env := newTestEnv(t, snapshot.NewExporter(dir, "", nil, zerolog.Nop()))
	sh, _ := env.catalog.Get("13")
	env.state.SetSelectedShade(&sh)

	rec := env.do(t, http.MethodPost, "/api/snapshots", "")
	assertStatusCode(t, rec, http.StatusCreated)
	var got snapshot.Record
	parseJSONResponse(t, rec, &got)
	if got.ShadeID != "13" || got.Width != 8 {
		t.Errorf("record = %+v", got)
	}
	if _, err := os.Stat(got.Path); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
}

func TestEventsStreamsChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := make(chan stateResponse, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				var v stateResponse
				if json.Unmarshal([]byte(data), &v) == nil {
					events <- v
				}
			}
		}
	}()

	next := func() stateResponse {
		select {
		case v := <-events:
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
		}
		return stateResponse{}
	}

	if v := next(); v.CameraReady {
		t.Errorf("initial event = %+v", v)
	}
	env.state.SetCameraReady(true)
	if v := next(); !v.CameraReady || v.Status != "Align your face in the camera view." {
		t.Errorf("change event = %+v", v)
	}
}

func TestStreamServesJPEGParts(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream.mjpeg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", ct)
	}
	buf := make([]byte, 512)
	var got bytes.Buffer
	deadline := time.Now().Add(2 * time.Second)
	for !bytes.Contains(got.Bytes(), []byte("\xff\xd8")) && time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !bytes.Contains(got.Bytes(), []byte("--"+mjpegBoundary)) {
		t.Error("missing multipart boundary")
	}
	if !bytes.Contains(got.Bytes(), []byte("image/jpeg")) || !bytes.Contains(got.Bytes(), []byte("\xff\xd8")) {
		t.Error("missing JPEG part")
	}
}

func TestIndex(t *testing.T) {
	rec := newTestEnv(t, nil).do(t, http.MethodGet, "/", "")
	assertStatusCode(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "/stream.mjpeg") {
		t.Error("index does not reference the preview stream")
	}
}

func TestIndexRearmsGestureWhilePlaybackBlocked(t *testing.T) {
	body := newTestEnv(t, nil).do(t, http.MethodGet, "/", "").Body.String()
	if strings.Contains(body, "once: true") {
		t.Error("interaction listeners must stay installed for later blocked playback")
	}
	if !strings.Contains(body, "if (v.awaitingGesture) armGesture();") {
		t.Error("state updates awaiting a gesture must re-arm the interaction hook")
	}
}
